package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/middleware/validation"
	"github.com/boletin/backend/internal/query"
	"github.com/boletin/backend/pkg/logger"
)

type StudentHandler struct {
	queryEngine *query.Engine
}

func NewStudentHandler(queryEngine *query.Engine) *StudentHandler {
	return &StudentHandler{
		queryEngine: queryEngine,
	}
}

// Lookup serves a student's report card.
func (h *StudentHandler) Lookup(c *fiber.Ctx) error {
	id, _ := c.Locals(validation.IdentifierKey).(string)

	result, err := h.queryEngine.Lookup(c.Context(), id)
	if err != nil {
		return lookupError(c, err)
	}

	return c.JSON(result)
}

func lookupError(c *fiber.Ctx, err error) error {
	var notFound *query.NotFoundError

	switch {
	case errors.Is(err, query.ErrEmptyIdentifier):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "empty_identifier",
		})
	case errors.Is(err, query.ErrDataUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "data_unavailable",
			"message": "Grade data is loading, try again shortly",
		})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":       "not_found",
			"identifier":  notFound.Identifier,
			"suggestions": notFound.Suggestions,
		})
	default:
		logger.Error("Lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal_error",
		})
	}
}
