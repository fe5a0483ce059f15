package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	walletkit "github.com/layer-3/walletkit"
	"github.com/layer-3/walletkit/ports"
)

const (
	ctxUserID = "userID"
	ctxKit    = "kit"
)

// AuthMiddleware validates the bearer access token and stores its user id
// in the context. Websocket clients that cannot set headers may pass the
// token as the access_token query parameter.
func AuthMiddleware(tokens ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if auth := c.GetHeader("Authorization"); auth != "" {
			if !strings.HasPrefix(auth, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
				return
			}
			token = strings.TrimPrefix(auth, "Bearer ")
		} else {
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
			return
		}

		userID, err := tokens.ParseAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// kitMiddleware resolves the kit of the authenticated user.
func (s *Server) kitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		kit, err := s.tenants.Get(c.Request.Context(), c.GetString(ctxUserID))
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		c.Set(ctxKit, kit)
		c.Next()
	}
}

func kitOf(c *gin.Context) *walletkit.Kit {
	return c.MustGet(ctxKit).(*walletkit.Kit)
}
