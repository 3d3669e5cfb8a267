// README: Firebase auth middleware and role policy.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/infra"
	"tiffin/internal/types"
)

const (
	ctxCallerUID  = "callerUID"
	ctxCallerRole = "callerRole"
)

// Auth verifies the bearer ID token and stores the caller's uid and role on the context.
// Tokens without a recognised role claim are treated as customers.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).WithField("path", c.FullPath()).Debug("token verification failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxCallerUID, token.UID)
		c.Set(ctxCallerRole, token.Role())
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

func CallerRole(c *gin.Context) types.Role {
	v, _ := c.Get(ctxCallerRole)
	r, _ := v.(types.Role)
	return r
}

// Caller returns the authenticated principal as a domain actor.
func Caller(c *gin.Context) types.Actor {
	return types.Actor{Role: CallerRole(c), ID: types.ID(CallerUID(c))}
}

// Allowed reports whether role may use an endpoint restricted to roles. Admins may use
// every endpoint.
func Allowed(role types.Role, roles ...types.Role) bool {
	if role == types.RoleAdmin {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Allowed(CallerRole(c), roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
