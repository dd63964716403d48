package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/identity"
	"smartshop/internal/metrics"
	accountsvc "smartshop/internal/service/account"

	"github.com/gin-gonic/gin"
)

const tokenCtxKey = "sessionToken"

// authMiddleware resolves the bearer token and puts the account id on the
// request context.
func authMiddleware(accounts AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			writeError(c, domain.ErrUnauthenticated)
			c.Abort()
			return
		}
		acct, err := accounts.LookupByToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, accountsvc.ErrInvalidToken) {
				err = domain.ErrUnauthenticated
			}
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(tokenCtxKey, token)
		c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), acct.ID))
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.ObserveHTTP(c.Request.Method, route, status, time.Since(start))
	}
}
