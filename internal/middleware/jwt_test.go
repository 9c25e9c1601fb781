package middleware_test

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/middleware"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTProtectedStoresIdentity(t *testing.T) {
	var (
		gotID   interface{}
		gotRole interface{}
		gotName interface{}
	)

	app := fiber.New()
	app.Use(middleware.JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		gotID = c.Locals("user_id")
		gotRole = c.Locals("user_role")
		gotName = c.Locals("user_name")
		return c.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		name   string
		claims jwt.MapClaims
		id     string
		role   string
	}{
		{name: "string subject", claims: jwt.MapClaims{"sub": "cuid-123", "role": "Teacher", "name": "Bu Sari"}, id: "cuid-123", role: "teacher"},
		{name: "numeric subject", claims: jwt.MapClaims{"user_id": 42, "roles": []string{"student"}}, id: "42", role: "student"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.claims["exp"] = time.Now().Add(time.Hour).Unix()
			token := signToken(t, "secret", tt.claims)

			resp := perform(t, app, map[string]string{"Authorization": "Bearer " + token})
			require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
			require.Equal(t, tt.id, gotID)
			require.Equal(t, tt.role, gotRole)
			if name, ok := tt.claims["name"]; ok {
				require.Equal(t, name, gotName)
			}
		})
	}
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	wrongSecret := signToken(t, "other", jwt.MapClaims{"sub": "u-1"})
	expired := signToken(t, "secret", jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Minute).Unix()})

	for name, headers := range map[string]map[string]string{
		"missing header": nil,
		"not bearer":     {"Authorization": "Basic abc"},
		"wrong secret":   {"Authorization": "Bearer " + wrongSecret},
		"expired":        {"Authorization": "Bearer " + expired},
	} {
		t.Run(name, func(t *testing.T) {
			resp := perform(t, app, headers)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}
