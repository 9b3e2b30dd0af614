package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/domain/auth"
)

// SetupRoutes mounts the API under /v1. Session routes require a bearer
// session token; admin routes require the X-Admin-Token header.
func SetupRoutes(app *fiber.App, cfg *config.Config, deps *Dependencies) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})

	h := deps.authHandler

	authGroup := api.Group("/auth")
	authGroup.Post("/register", h.Register)
	authGroup.Post("/login", h.Login)
	authGroup.Post("/login/complete", h.CompleteLogin)
	authGroup.Get("/confirm", h.ConfirmPage)
	authGroup.Post("/confirm", h.Confirm)

	requireSession := auth.SessionMiddleware(deps.Sessions)
	authGroup.Post("/logout", requireSession, h.Logout)

	sessionGroup := api.Group("/sessions", requireSession)
	sessionGroup.Get("/", h.ListSessions)
	sessionGroup.Get("/history", h.SessionHistory)
	sessionGroup.Delete("/", h.RevokeOtherSessions)
	sessionGroup.Delete("/:id", h.RevokeSession)

	api.Get("/devices", requireSession, h.ListDevices)

	deps.adminHandler.RegisterRoutes(api, cfg.Server.AdminToken)
}
