package middlewares

import (
	"crypto/subtle"
	"strings"

	"github.com/foxrun/chandrive/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware enforces the single shared pre-shared secret, compared as
// a bearer string, from either the Authorization header or a token query
// parameter (spec.md §6). A blank secret disables the check entirely, for
// local/dev use.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token := c.Query("token")
		if token == "" {
			authHeader := c.GetHeader("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				token = parts[1]
			} else {
				token = authHeader
			}
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			xerr.AbortWithError(c, xerr.New(xerr.CodeUnauthorized, xerr.ErrUnauthorized))
			return
		}

		c.Next()
	}
}
