// Package api wires the HTTP routes.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/boletin/backend/internal/admin"
	"github.com/boletin/backend/internal/api/handlers"
	"github.com/boletin/backend/internal/metrics"
	"github.com/boletin/backend/internal/middleware/ratelimit"
	"github.com/boletin/backend/internal/middleware/validation"
	"github.com/boletin/backend/internal/store"
)

const checkTimeout = 2 * time.Second

// Check probes one backing component for the readiness report.
type Check func(ctx context.Context) error

type Deps struct {
	Store     *store.Store
	Students  *handlers.StudentHandler
	Admin     *handlers.AdminHandler
	Sheets    *handlers.SheetHandler
	WebSocket *handlers.WebSocketHandler
	Sessions  *admin.SessionManager
	// Limiter guards the lookup route; nil disables it.
	Limiter *ratelimit.RateLimiter
	// Checks are reported by /ready. A failing check degrades the report
	// but does not fail it while a snapshot is being served.
	Checks map[string]Check
}

// Register mounts every route under /api/v1. Admin routes are only mounted
// when Sessions is set.
func Register(app *fiber.App, deps Deps) {
	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		components, healthy := runChecks(c.UserContext(), deps.Checks)

		snap := deps.Store.Snapshot()
		if snap == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":     "loading",
				"components": components,
			})
		}

		status := "ready"
		if !healthy {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":      status,
			"records":     len(snap.Records),
			"last_update": snap.LoadedAt,
			"components":  components,
		})
	})

	api.Get("/metrics", metrics.MetricsHandler())

	lookup := []fiber.Handler{validation.Identifier(validation.Config{})}
	if deps.Limiter != nil {
		lookup = append([]fiber.Handler{deps.Limiter.Middleware()}, lookup...)
	}
	api.Get("/students/:cedula?", append(lookup, deps.Students.Lookup)...)

	if deps.Sessions == nil {
		return
	}

	api.Post("/admin/login", deps.Admin.Login)

	adminGroup := api.Group("/admin", deps.Sessions.Middleware())
	adminGroup.Post("/logout", deps.Admin.Logout)
	adminGroup.Get("/stats", deps.Admin.Statistics)
	adminGroup.Get("/subjects", deps.Admin.Subjects)
	adminGroup.Get("/students", deps.Admin.Students)
	adminGroup.Get("/loads", deps.Admin.Loads)
	adminGroup.Post("/refresh", deps.Sheets.Refresh)
	adminGroup.Post("/upload",
		validation.ContentType("text/csv", "text/html", "text/plain", fiber.MIMEMultipartForm),
		deps.Sheets.Upload,
	)

	api.Get("/ws/admin", deps.WebSocket.Upgrade, websocket.New(deps.WebSocket.HandleConnection))
}

func runChecks(ctx context.Context, checks map[string]Check) (map[string]string, bool) {
	components := make(map[string]string, len(checks))
	healthy := true
	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}
	return components, healthy
}
