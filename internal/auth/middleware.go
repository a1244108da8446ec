package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ContextKeyUsername = "principal"
	ContextKeyClaims   = "principal_claims"
)

// Middleware requires a valid bearer access token
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "missing or malformed authorization header",
			})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(tokenString)
		if err != nil {
			authErr := ErrInvalidToken
			errors.As(err, &authErr)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}

		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// bearerToken reads the Authorization header, or the token query parameter for
// websocket upgrades where browsers cannot set headers
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUsername returns the authenticated principal, empty when auth is off
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}

// GetClaims extracts the principal claims from the Gin context
func GetClaims(c *gin.Context) *PrincipalClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		if pc, ok := claims.(*PrincipalClaims); ok {
			return pc
		}
	}
	return nil
}
