package middleware

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// teacherRoles may manage assignments, grade manually and read hidden tests.
var teacherRoles = []string{"teacher", "admin"}

// RequireRole rejects callers whose role is not one of roles with 403.
func RequireRole(roles ...string) fiber.Handler {
	allowed := roleSet(roles...)

	return func(c *fiber.Ctx) error {
		if !allowed.Contains(normalizeRoleValue(c.Locals("user_role"))) {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return c.Next()
	}
}

// RequireTeacher guards assignment management and manual grading.
func RequireTeacher() fiber.Handler {
	return RequireRole(teacherRoles...)
}

func roleSet(roles ...string) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			set.Add(normalized)
		}
	}
	return set
}

func normalizeRoleValue(value interface{}) string {
	var raw string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		raw = v
	case fmt.Stringer:
		raw = v.String()
	default:
		raw = fmt.Sprintf("%v", v)
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
