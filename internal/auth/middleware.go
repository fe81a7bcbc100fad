package auth

import (
	"net/http"
	"strings"

	"bookjourney/internal/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware проверяет валидность access токена
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "NO_AUTH_HEADER",
				Message: "Требуется авторизация",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, ok := ParseUserID(tokenString, AccessSecret)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "INVALID_TOKEN",
				Message: "Неверный или просроченный токен",
			})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
