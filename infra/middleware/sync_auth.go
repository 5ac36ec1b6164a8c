package middleware

import (
	"fmt"
	"strings"
	"time"

	"sync_server/pkg/apperr"
	"sync_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth validates HS256 bearer tokens and stores the user id in locals.
// The portal gateway signs tokens with a shared secret; the sub claim
// carries the farmer's user id.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		})

		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token").WithError(err)
		}

		if !token.Valid {
			return apperr.InvalidToken("invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperr.InvalidToken("invalid claims")
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				return apperr.InvalidToken("token expired")
			}
		}

		userID, ok := claims["sub"].(string)
		if !ok || userID == "" {
			return apperr.InvalidToken("missing user id in token")
		}

		c.Locals("user_id", userID)
		c.Locals("claims", claims)

		if deviceID, ok := claims["device_id"].(string); ok {
			c.Locals("device_id", deviceID)
		}

		return c.Next()
	}
}

// InternalAuth trusts the X-User-Id header. Only for deployments where the
// sync service sits behind the portal gateway, which strips inbound copies
// of the header before setting its own.
func InternalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return apperr.Unauthorized("missing X-User-Id header")
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	// Query param fallback for clients that cannot set headers.
	return c.Query("token")
}
