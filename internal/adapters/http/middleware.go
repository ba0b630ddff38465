package http

import (
	"github.com/gin-gonic/gin"

	"github.com/telemeet/huddle/internal/auth"
	"github.com/telemeet/huddle/internal/domain"
)

const userKey = "authed_user"

// AuthMiddleware verifies the bearer credential and stores the resolved
// user in the request context. Blocked users are rejected here, before
// any handler runs.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.Verify(c.Request.Context(), auth.BearerToken(c.Request))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	u, _ := c.Get(userKey)
	return u.(*domain.User)
}
