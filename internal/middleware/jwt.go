package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grader/internal/utils"
)

const bearerPrefix = "Bearer "

var errInvalidSubject = errors.New("invalid subject")

// identity is what the grader needs from a token: who is calling and whether
// they are staff.
type identity struct {
	UserID string
	Name   string
	Role   string
}

// JWTProtected validates HMAC-signed bearer tokens and stores the caller's
// identity in the user_id, user_name and user_role locals.
func JWTProtected(secret string) fiber.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}

	return func(c *fiber.Ctx) error {
		tokenString, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		id := identityFromClaims(claims)
		if id.UserID != "" {
			c.Locals("user_id", id.UserID)
		}
		if id.Name != "" {
			c.Locals("user_name", id.Name)
		}
		if id.Role != "" {
			c.Locals("user_role", id.Role)
		}

		return c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header missing")
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", errors.New("invalid authorization header")
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

func identityFromClaims(claims jwt.MapClaims) identity {
	var id identity

	for _, key := range []string{"sub", "user_id", "id"} {
		if subject, err := subjectString(claims[key]); err == nil && subject != "" {
			id.UserID = subject
			break
		}
	}

	if name, ok := claims["name"].(string); ok {
		id.Name = strings.TrimSpace(name)
	}

	for _, key := range []string{"role", "roles"} {
		if role := firstRole(claims[key]); role != "" {
			id.Role = role
			break
		}
	}

	return id
}

// subjectString accepts string ids and non-negative integral numbers.
func subjectString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return "", errInvalidSubject
		}
		return strconv.FormatInt(int64(v), 10), nil
	case int:
		if v < 0 {
			return "", errInvalidSubject
		}
		return strconv.Itoa(v), nil
	default:
		return "", errInvalidSubject
	}
}

func firstRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return normalizeRoleValue(v)
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				if role := normalizeRoleValue(str); role != "" {
					return role
				}
			}
		}
	}
	return ""
}
