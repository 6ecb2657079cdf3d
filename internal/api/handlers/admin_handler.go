package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/admin"
	"github.com/boletin/backend/internal/query"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/pkg/logger"
)

const (
	defaultLoadLimit = 20
	maxLoadLimit     = 200
)

// LoadHistory reads the persisted load events, newest first.
type LoadHistory interface {
	RecentLoads(ctx context.Context, limit int) ([]models.LoadEvent, error)
}

type AdminHandler struct {
	sessions    *admin.SessionManager
	queryEngine *query.Engine
	history     LoadHistory
}

// NewAdminHandler builds the administrator handler. history may be nil.
func NewAdminHandler(sessions *admin.SessionManager, queryEngine *query.Engine, history LoadHistory) *AdminHandler {
	return &AdminHandler{
		sessions:    sessions,
		queryEngine: queryEngine,
		history:     history,
	}
}

func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid_body",
		})
	}

	session, err := h.sessions.Login(req.Username, req.Password)
	if err != nil {
		logger.Warn("Admin login rejected", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid_credentials",
		})
	}

	logger.Info("Admin logged in", zap.String("ip", c.IP()))
	return c.JSON(session)
}

func (h *AdminHandler) Logout(c *fiber.Ctx) error {
	h.sessions.Logout(admin.TokenFrom(c))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.queryEngine.Statistics(c.Context())
	if errors.Is(err, query.ErrDataUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "data_unavailable",
		})
	}
	if err != nil {
		logger.Error("Failed to compute statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal_error",
		})
	}

	return c.JSON(stats)
}

func (h *AdminHandler) Subjects(c *fiber.Ctx) error {
	subjects, err := h.queryEngine.Subjects()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "data_unavailable",
		})
	}
	return c.JSON(fiber.Map{"subjects": subjects})
}

// Students lists student averages, optionally for one course ("OCTAVO A").
func (h *AdminHandler) Students(c *fiber.Ctx) error {
	students, err := h.queryEngine.Students(c.Query("course"))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "data_unavailable",
		})
	}
	return c.JSON(fiber.Map{"students": students})
}

func (h *AdminHandler) Loads(c *fiber.Ctx) error {
	limit := defaultLoadLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid_limit",
			})
		}
		limit = min(n, maxLoadLimit)
	}

	if h.history == nil {
		return c.JSON(fiber.Map{"loads": []models.LoadEvent{}})
	}

	loads, err := h.history.RecentLoads(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to read load history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal_error",
		})
	}
	return c.JSON(fiber.Map{"loads": loads})
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
