package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cory-johannsen/gamehub/internal/ledger"
)

type currencyRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type amountRequest struct {
	Player   string `json:"player"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type transferRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type transferResponse struct {
	From ledger.Account `json:"from"`
	To   ledger.Account `json:"to"`
}

// bind decodes the JSON body into v or replies 400.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (a *api) createCurrency(c *gin.Context) {
	var req currencyRequest
	if !bind(c, &req) {
		return
	}
	if err := a.deps.Ledger.CreateCurrency(c.Request.Context(), ledger.Currency{Name: req.Name, Key: req.Key}); err != nil {
		a.failErr(c, "create currency", err)
		return
	}
	success(c, "currency created")
}

func (a *api) listCurrencies(c *gin.Context) {
	names, err := a.deps.Ledger.ListCurrencies(c.Request.Context())
	if err != nil {
		a.failErr(c, "list currencies", err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (a *api) currencyExists(c *gin.Context) {
	ok, err := a.deps.Ledger.CurrencyExists(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.failErr(c, "currency exists", err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, "currency not found")
		return
	}
	success(c, "currency exists")
}

// renameCurrency takes the new name in the body and the current one in the path.
func (a *api) renameCurrency(c *gin.Context) {
	var req currencyRequest
	if !bind(c, &req) {
		return
	}
	cur := ledger.Currency{Name: c.Param("name"), Key: req.Key}
	if err := a.deps.Ledger.RenameCurrency(c.Request.Context(), cur, req.Name); err != nil {
		a.failErr(c, "rename currency", err)
		return
	}
	success(c, "currency renamed")
}

func (a *api) deleteCurrency(c *gin.Context) {
	var req currencyRequest
	if !bind(c, &req) {
		return
	}
	cur := ledger.Currency{Name: c.Param("name"), Key: req.Key}
	if err := a.deps.Ledger.DeleteCurrency(c.Request.Context(), cur); err != nil {
		a.failErr(c, "delete currency", err)
		return
	}
	success(c, "currency deleted")
}

func (a *api) openAccount(c *gin.Context) {
	var acct ledger.Account
	if !bind(c, &acct) {
		return
	}
	if err := a.deps.Ledger.OpenAccount(c.Request.Context(), acct); err != nil {
		a.failErr(c, "open account", err)
		return
	}
	success(c, "account opened")
}

func (a *api) balance(c *gin.Context) {
	player, currency := c.Param("player"), c.Param("currency")
	bal, err := a.deps.Ledger.Balance(c.Request.Context(), player, currency)
	if err != nil {
		a.failErr(c, "balance", err)
		return
	}
	c.JSON(http.StatusOK, ledger.Account{Player: player, Currency: currency, Balance: bal})
}

func (a *api) setBalance(c *gin.Context) {
	var acct ledger.Account
	if !bind(c, &acct) {
		return
	}
	if err := a.deps.Ledger.SetBalance(c.Request.Context(), acct); err != nil {
		a.failErr(c, "set balance", err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (a *api) deposit(c *gin.Context) {
	a.adjust(c, "deposit", a.deps.Ledger.Deposit)
}

func (a *api) withdraw(c *gin.Context) {
	a.adjust(c, "withdraw", a.deps.Ledger.Withdraw)
}

type adjustFunc func(ctx context.Context, player, currency string, amount int64) (int64, error)

func (a *api) adjust(c *gin.Context, op string, fn adjustFunc) {
	var req amountRequest
	if !bind(c, &req) {
		return
	}
	bal, err := fn(c.Request.Context(), req.Player, req.Currency, req.Amount)
	if err != nil {
		a.failErr(c, op, err)
		return
	}
	c.JSON(http.StatusOK, ledger.Account{Player: req.Player, Currency: req.Currency, Balance: bal})
}

func (a *api) transfer(c *gin.Context) {
	var req transferRequest
	if !bind(c, &req) {
		return
	}
	from, to, err := a.deps.Ledger.Transfer(c.Request.Context(), req.From, req.To, req.Currency, req.Amount)
	if err != nil {
		a.failErr(c, "transfer", err)
		return
	}
	c.JSON(http.StatusOK, transferResponse{
		From: ledger.Account{Player: req.From, Currency: req.Currency, Balance: from},
		To:   ledger.Account{Player: req.To, Currency: req.Currency, Balance: to},
	})
}
