// Package auth verifies the bearer tokens issued by the RunConnect account
// service. It does not issue tokens itself.
package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTMiddleware validates HS256 bearer tokens and stores user_id in locals.
func JWTMiddleware(secret string) fiber.Handler {
	return jwtMiddleware(secret, false)
}

// JWTQueryMiddleware also accepts the token as ?access_token=, for browser
// websocket upgrades that cannot set an Authorization header.
func JWTQueryMiddleware(secret string) fiber.Handler {
	return jwtMiddleware(secret, true)
}

func jwtMiddleware(secret string, allowQuery bool) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" && allowQuery {
			token = c.Query("access_token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := parseMiddlewareClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, ok := parsed.Claims.(*Claims)
		if !ok || !parsed.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}
		if claims.UserID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token has no user_id")
		}

		c.Locals(userIDKey, claims.UserID)
		return c.Next()
	}
}

// UserID returns the authenticated user, or "" outside JWTMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

var parseMiddlewareClaimsFn = jwt.ParseWithClaims

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
