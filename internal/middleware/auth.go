package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
)

// Context keys set by Auth.
const (
	ContextClientID = "client_id"
	ContextRole     = "role"
)

// Auth accepts either a bearer JWT issued by /auth/token or a raw API key.
func Auth(authService services.AuthServiceInterface, apiKeys func(string) (string, error), logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTHORIZATION", "Authorization header is required")
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abortUnauthorized(c, "INVALID_AUTHORIZATION_FORMAT", "Authorization header must be in format 'Bearer <token>'")
			return
		}
		tokenString := tokenParts[1]

		// API keys carry no dots, tokens always do
		if !strings.Contains(tokenString, ".") && apiKeys != nil {
			role, err := apiKeys(tokenString)
			if err != nil {
				logger.WithError(err).Warn("Invalid API key")
				abortUnauthorized(c, "INVALID_API_KEY", "Invalid API key")
				return
			}
			clientID := c.GetHeader("X-Client-ID")
			if clientID == "" {
				clientID = "api-key"
			}
			c.Set(ContextClientID, clientID)
			c.Set(ContextRole, role)
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			logger.WithError(err).Warn("Invalid JWT token")
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(ContextClientID, claims.ClientID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireOperator rejects viewers on mutating routes.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, ok := c.Get(ContextRole); ok && role == services.RoleViewer {
			c.JSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "Operator role required",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
	c.Abort()
}

// GetClientFromContext returns the authenticated client and role, empty when
// auth is disabled.
func GetClientFromContext(c *gin.Context) (string, string) {
	clientID, _ := c.Get(ContextClientID)
	role, _ := c.Get(ContextRole)
	id, _ := clientID.(string)
	r, _ := role.(string)
	return id, r
}
