package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"chorus/chat-service/models"
	"chorus/chat-service/utils"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "userID"

// Remember stores the public profile carried by a token
type Remember interface {
	Remember(ctx context.Context, user models.UserView) error
}

// JWTAuth resolves the caller from an HMAC-signed token with a user_id claim.
// Optional name and avatar claims are recorded in users.
func JWTAuth(secret string, users Remember, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c.Request)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization token"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			// Validate the alg is what we expect
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}
		userID, _ := claims["user_id"].(string)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		if users != nil {
			if name, _ := claims["name"].(string); name != "" {
				avatar, _ := claims["avatar"].(string)
				view := models.UserView{ID: userID, Name: name, Avatar: avatar}
				if err := users.Remember(c.Request.Context(), view); err != nil {
					logger.Warn("Failed to remember user profile", "user_id", userID, "error", err)
				}
			}
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by JWTAuth
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func extractToken(r *http.Request) string {
	// Try Authorization header first
	bearerToken := r.Header.Get("Authorization")
	if strings.HasPrefix(bearerToken, "Bearer ") {
		return strings.TrimPrefix(bearerToken, "Bearer ")
	}

	// Browsers cannot set headers on websocket upgrades
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}
