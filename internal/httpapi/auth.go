package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenQueryParam carries the shared token for clients that cannot set headers.
const TokenQueryParam = "token"

// bearerToken extracts the caller token from the Authorization header, falling
// back to the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// RequireToken aborts with 401 unless the caller presents token. The comparison
// is constant-time in the token contents.
//
// Precondition: token must be non-empty.
func RequireToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(bearerToken(c.Request))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			fail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Next()
	}
}
