package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// internalKeyHeader carries the shared secret for service-to-service calls.
const internalKeyHeader = "X-Internal-API-Key"

// InternalAuth guards the /internal route group. The expected key comes from
// INTERNAL_API_KEY; when it is unset every request fails with 500 so a
// misconfigured deployment is loud instead of open.
func InternalAuth() gin.HandlerFunc {
	expected := []byte(os.Getenv("INTERNAL_API_KEY"))
	if len(expected) == 0 {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "server misconfigured: INTERNAL_API_KEY not set",
			})
		}
	}

	return func(c *gin.Context) {
		got := []byte(c.GetHeader(internalKeyHeader))
		// Constant-time compare to prevent timing attacks
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
