// Package admin exposes operator endpoints for the network blocklist and
// session housekeeping.
package admin

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/loginguard/internal/domain/risk"
	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/utils"
)

// BlockRequest is the body of POST /admin/blocklist
type BlockRequest struct {
	Network string `json:"network"`
	TTL     string `json:"ttl,omitempty"`
}

type Handler struct {
	blocklist *risk.Blocklist
	sessions  session.Service
}

func NewHandler(blocklist *risk.Blocklist, sessions session.Service) *Handler {
	return &Handler{blocklist: blocklist, sessions: sessions}
}

// RegisterRoutes mounts the admin endpoints behind the token middleware
func (h *Handler) RegisterRoutes(router fiber.Router, token string) {
	g := router.Group("/admin", TokenMiddleware(token))
	g.Get("/blocklist", h.ListBlocked)
	g.Post("/blocklist", h.Block)
	g.Delete("/blocklist", h.Unblock)
	g.Post("/sessions/cleanup", h.Cleanup)
	g.Delete("/users/:id/sessions", h.RevokeUserSessions)
}

func (h *Handler) ListBlocked(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, fiber.Map{"networks": h.blocklist.Entries()}, "Blocked networks")
}

func (h *Handler) Block(c *fiber.Ctx) error {
	var req BlockRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}

	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			return utils.ErrorResponse(c, utils.ErrBadRequest)
		}
		ttl = d
	}

	entry, err := h.blocklist.Add(req.Network, ttl)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidNetwork) {
			return utils.ErrorResponse(c, utils.ErrBadRequest)
		}
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}

	slog.Info("Network blocked", "network", entry.Network, "expires_at", entry.ExpiresAt)
	return utils.SuccessResponse(c, entry, "Network blocked", fiber.StatusCreated)
}

func (h *Handler) Unblock(c *fiber.Ctx) error {
	network := c.Query("network")
	removed, err := h.blocklist.Remove(network)
	if err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	}
	if !removed {
		return utils.ErrorResponse(c, utils.ErrNotFound)
	}

	slog.Info("Network unblocked", "network", network)
	return utils.SuccessResponse(c, nil, "Network unblocked")
}

func (h *Handler) Cleanup(c *fiber.Ctx) error {
	n, err := h.sessions.CleanupExpiredSessions(c.UserContext())
	if err != nil {
		slog.Error("Manual session cleanup failed", "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}
	return utils.SuccessResponse(c, fiber.Map{"expired": n}, "Cleanup complete")
}

func (h *Handler) RevokeUserSessions(c *fiber.Ctx) error {
	userID := c.Params("id")
	n, err := h.sessions.RevokeAllSessions(c.UserContext(), userID, "", session.ReasonRevoked)
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			return utils.ErrorResponse(c, utils.ErrBadRequest)
		}
		slog.Error("Failed to revoke user sessions", "user_id", userID, "error", err)
		return utils.ErrorResponse(c, utils.ErrInternalServer)
	}

	slog.Info("User sessions revoked by operator", "user_id", userID, "count", n)
	return utils.SuccessResponse(c, fiber.Map{"revoked": n}, "Sessions revoked")
}
