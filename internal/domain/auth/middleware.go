package auth

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/utils"
)

const (
	// IdentityKey is the key used to store the identity in Fiber context
	IdentityKey = "identity"
)

// Identity is the authenticated caller resolved from a session token
type Identity struct {
	UserID      string
	SessionID   string
	MFAVerified bool
	Session     *session.Info
}

// SessionMiddleware resolves the bearer session token and stores the identity
func SessionMiddleware(sessions session.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return utils.ErrorResponse(c, utils.ErrUnauthorized)
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return utils.ErrorResponse(c, utils.ErrUnauthorized)
		}

		res, err := sessions.ValidateSession(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, session.ErrInvalidInput) {
				return utils.ErrorResponse(c, apiErrInvalidSession)
			}
			slog.Error("Session validation failed", "error", err)
			return utils.ErrorResponse(c, utils.ErrInternalServer)
		}
		if !res.Valid {
			return utils.ErrorResponse(c, apiErrInvalidSession)
		}

		c.Locals(IdentityKey, &Identity{
			UserID:      res.UserID,
			SessionID:   res.Session.SessionID,
			MFAVerified: res.MFAVerified,
			Session:     res.Session,
		})

		return c.Next()
	}
}

// GetIdentity extracts the identity from Fiber context
func GetIdentity(c *fiber.Ctx) *Identity {
	identity, ok := c.Locals(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
