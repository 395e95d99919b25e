// Package middleware carries the gin middlewares: JWT authentication for
// users and admins, request id tagging, and HTTP metrics collection.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextKeyAddress is the gin context key holding the caller address.
const ContextKeyAddress = "caller_address"

// AuthMiddleware validates bearer tokens on protected routes.
type AuthMiddleware struct {
	tokens *TokenManager
	logger *logrus.Logger
}

func NewAuthMiddleware(tokens *TokenManager, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

// RequireAuth rejects requests without a valid user token and stores the
// caller address in the context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		if claims.Address == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}
		c.Set(ContextKeyAddress, claims.Address)
		c.Next()
	}
}

// RequireAdmin rejects requests without a valid admin token.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		if claims.Role != RoleAdmin {
			a.logger.WithFields(logrus.Fields{
				"path":       c.Request.URL.Path,
				"role":       claims.Role,
				"request_id": GetRequestID(c),
			}).Warn("Admin route rejected non-admin token")

			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Admin access required",
				"code":    "FORBIDDEN",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *AuthMiddleware) authenticate(c *gin.Context) (*Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"message": "Missing Authorization header",
			"code":    "MISSING_AUTH_HEADER",
		})
		c.Abort()
		return nil, false
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid authorization format",
			"message": "Authorization header must be in format: Bearer <token>",
			"code":    "INVALID_AUTH_FORMAT",
		})
		c.Abort()
		return nil, false
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := a.tokens.Validate(tokenString)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"request_id": GetRequestID(c),
			"error":      err.Error(),
		}).Warn("Token validation failed")

		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid or expired token",
			"code":    "INVALID_TOKEN",
		})
		c.Abort()
		return nil, false
	}
	return claims, true
}

// CallerAddress returns the authenticated address stored by RequireAuth.
func CallerAddress(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKeyAddress)
	if !ok {
		return "", false
	}
	addr, ok := v.(string)
	return addr, ok
}
