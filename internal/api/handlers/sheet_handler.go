package handlers

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/boletin/backend/internal/ingestion"
	"github.com/boletin/backend/internal/storage/models"
	"github.com/boletin/backend/pkg/logger"
)

const uploadField = "file"

type SheetHandler struct {
	processor *ingestion.Processor
}

func NewSheetHandler(processor *ingestion.Processor) *SheetHandler {
	return &SheetHandler{
		processor: processor,
	}
}

// Refresh reloads the sheet from the feed and waits for the outcome.
func (h *SheetHandler) Refresh(c *fiber.Ctx) error {
	ev, err := h.processor.Load(c.Context())
	if errors.Is(err, ingestion.ErrNoFeed) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "no_feed_configured",
		})
	}
	return loadResponse(c, ev, err)
}

// Upload loads a sheet sent as the raw body or as a multipart file field.
func (h *SheetHandler) Upload(c *fiber.Ctx) error {
	source := "upload"
	contentType := c.Get(fiber.HeaderContentType)
	body := append([]byte(nil), c.Body()...)

	if strings.HasPrefix(strings.ToLower(contentType), fiber.MIMEMultipartForm) {
		file, err := c.FormFile(uploadField)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing_file",
			})
		}
		f, err := file.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unreadable_file",
			})
		}
		defer f.Close()

		body, err = io.ReadAll(f)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unreadable_file",
			})
		}
		source = "upload:" + file.Filename
		contentType = file.Header.Get(fiber.HeaderContentType)
	}

	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "empty_body",
		})
	}

	ev, err := h.processor.LoadBody(c.Context(), source, body, contentType)
	return loadResponse(c, ev, err)
}

func loadResponse(c *fiber.Ctx, ev *models.LoadEvent, err error) error {
	if err == nil {
		return c.JSON(ev)
	}

	logger.Warn("Sheet load request failed", zap.Error(err))

	status := fiber.StatusBadGateway
	if errors.Is(err, ingestion.ErrNoHeader) ||
		errors.Is(err, ingestion.ErrMissingIDColumn) ||
		errors.Is(err, ingestion.ErrUnsupportedFormat) {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{
		"error": "load_failed",
		"load":  ev,
	})
}
