package auth

import (
	"errors"

	"delivery-tracker/internal/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	principalKey = "principal"
	rejectionKey = "auth_rejection"
)

// Middleware resolves the bearer credential of every request. A rejected
// credential leaves the caller anonymous and records the reason for
// RejectionFrom; per-operation policy decides whether anonymous is enough.
// Failures of the token store abort the request with a 500.
func (m *TokenManager) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, err := m.Resolve(c.UserContext(), c.Get(fiber.HeaderAuthorization))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				logger.Get().Error("Failed to resolve credential",
					zap.String("path", c.Path()),
					zap.Error(err),
				)
				return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve credential")
			}
			logger.Get().Debug("Credential rejected",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			c.Locals(rejectionKey, err)
			principal = nil
		}
		c.Locals(principalKey, principal)
		return c.Next()
	}
}

// PrincipalFrom returns the principal stored by Middleware, or nil.
func PrincipalFrom(c *fiber.Ctx) *Principal {
	p, _ := c.Locals(principalKey).(*Principal)
	return p
}

// RejectionFrom returns why the request credential was rejected, or nil when
// none was sent or it was accepted.
func RejectionFrom(c *fiber.Ctx) error {
	err, _ := c.Locals(rejectionKey).(error)
	return err
}

// WithPrincipal stores a principal on the request context.
func WithPrincipal(c *fiber.Ctx, p *Principal) {
	c.Locals(principalKey, p)
}
