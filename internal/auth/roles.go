package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-sla/internal/domain"
	apperrors "github.com/spec-kit/itsm-sla/pkg/util/errorutil"
)

// RequireRole ensures the caller has one of the allowed roles. Admins pass every guard.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.Role == domain.RoleAdmin {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
