package middleware

import (
	"net/http"
	"strings"

	"nytax/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by RequireRole
const (
	ContextUserID   = "userID"
	ContextUserRole = "userRole"
)

// Auth validates bearer tokens signed with the configured HMAC secret.
type Auth struct {
	secret []byte
}

func NewAuth(secret []byte) *Auth {
	return &Auth{secret: secret}
}

// ParseToken verifies tokenString and returns its claims.
func (a *Auth) ParseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// RequireRole Middleware validates the JWT token and checks if the user's role exists in the allowedRoles list
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthorized", "Authorization is missing"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthorized", "Invalid authorization format. Expected 'Bearer <token>'"))
			return
		}

		claims, err := a.ParseToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorWithCode(http.StatusUnauthorized, "unauthorized", "Invalid token: "+err.Error()))
			return
		}

		userRole, ok := claims["role"].(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorWithCode(http.StatusForbidden, "forbidden", "Role not found in token"))
			return
		}

		roleAllowed := false
		for _, role := range allowedRoles {
			if userRole == role {
				roleAllowed = true
				break
			}
		}

		if !roleAllowed {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorWithCode(http.StatusForbidden, "forbidden", "Access denied: insufficient permissions"))
			return
		}

		c.Set(ContextUserID, claims["sub"])
		c.Set(ContextUserRole, userRole)

		c.Next()
	}
}

// Role verifies tokenString and returns its role claim.
func (a *Auth) Role(tokenString string) (string, error) {
	claims, err := a.ParseToken(tokenString)
	if err != nil {
		return "", err
	}
	role, ok := claims["role"].(string)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	return role, nil
}
