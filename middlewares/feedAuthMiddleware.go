package middlewares

import (
	"context"
	"net/http"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/gin-gonic/gin"
)

type feedClaimsKey struct{}

// FeedAuthMiddleware guards the sales feed endpoint. With
// FEED_TOKEN_REQUIRED=true a valid producer token is mandatory;
// otherwise a token is verified only when one is sent, so Pub/Sub push
// inside the project keeps working without one.
func FeedAuthMiddleware() gin.HandlerFunc {
	required := os.Getenv("FEED_TOKEN_REQUIRED") == "true"

	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			if required {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "feed token required"})
				c.Abort()
				return
			}
			c.Next()
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		claims, err := utils.ValidateFeedToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid feed token"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), feedClaimsKey{}, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// FeedClaimsFromContext returns the verified producer claims, or nil
// when the request carried no token.
func FeedClaimsFromContext(ctx context.Context) *utils.FeedTokenClaims {
	claims, _ := ctx.Value(feedClaimsKey{}).(*utils.FeedTokenClaims)
	return claims
}
