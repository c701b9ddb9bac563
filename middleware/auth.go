package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ContextUserID = "user_id"

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

// AuthMiddleware requires an HS256 bearer token signed with secret. Tokens
// carry the user either as a user_id claim or as the subject; it is stored in
// the gin context under ContextUserID.
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		tokenString, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errUnexpectedSigningMethod
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		userID := userFromClaims(claims)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has no user"})
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

func userFromClaims(claims jwt.MapClaims) string {
	switch v := claims["user_id"].(type) {
	case float64:
		return fmt.Sprintf("%.0f", v)
	case string:
		if v != "" {
			return v
		}
	}
	sub, _ := claims.GetSubject()
	return sub
}
