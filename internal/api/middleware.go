package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pccr10001/trunkie/internal/auth"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/repository"
	"github.com/pccr10001/trunkie/pkg/logger"
)

func AuthMiddleware(users *repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			logger.Log.Warnf("Auth Middleware: Token validation failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			return
		}

		// Reload the user so role and AllowedBoards changes apply without a new token.
		user, err := users.FindByID(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		c.Set("user", user)
		c.Set("userID", claims.UserID)
		c.Set("role", user.Role)

		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter browsers use for websockets.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		logger.Log.Warn("Auth Middleware: Missing Authorization header")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		logger.Log.Warnf("Auth Middleware: Invalid header format: %s", authHeader)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
		return "", false
	}
	return parts[1], true
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || role != roleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (*model.User, bool) {
	userObj, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}
	return userObj.(*model.User), true
}

// allowedBoards returns nil when the user may see every board.
func allowedBoards(user *model.User) []string {
	if user.Role == roleAdmin || user.AllowedBoards == "*" {
		return nil
	}
	if user.AllowedBoards == "" {
		return []string{}
	}
	return strings.Split(user.AllowedBoards, ",")
}

func canAccess(user *model.User, serial string) bool {
	allowed := allowedBoards(user)
	return allowed == nil || contains(allowed, serial)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
