package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/hub"
	"github.com/cory-johannsen/gamehub/internal/ledger"
	"github.com/cory-johannsen/gamehub/internal/storage/blob"
)

const (
	typeSuccess = "success"
	typeError   = "error"
)

// Response is the envelope for every non-list, non-blob reply.
type Response struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{Type: typeSuccess, Message: message})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Type: typeError, Message: message})
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, hub.ErrHubUnavailable), errors.Is(err, hub.ErrHubBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, blob.ErrNotFound),
		errors.Is(err, ledger.ErrCurrencyNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, blob.ErrInvalidKey), errors.Is(err, ledger.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, blob.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ledger.ErrCurrencyExists),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrKeyMismatch):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// failErr replies with the status for err. Server-side failures are logged
// and their detail withheld from the caller.
func (a *api) failErr(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.logger.Error(op+" failed", requestIDField(c), zap.Error(err))
		fail(c, status, "internal error")
		return
	}
	fail(c, status, err.Error())
}
