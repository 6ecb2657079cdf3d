package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// IdentifierKey is the Locals key holding the cleaned identifier.
const IdentifierKey = "identifier"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	Param               string
	MaxIdentifierLength int
	Logger              *zap.Logger
}

// Identifier validates a route parameter holding a student identifier and
// stores the trimmed value under IdentifierKey. Emptiness is left to the
// handler so it can answer with its own error.
func Identifier(cfg Config) fiber.Handler {
	if cfg.Param == "" {
		cfg.Param = "cedula"
	}
	if cfg.MaxIdentifierLength == 0 {
		cfg.MaxIdentifierLength = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		raw, err := url.PathUnescape(c.Params(cfg.Param))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid_identifier",
			})
		}

		id := sanitizeString(raw)
		if len(id) > cfg.MaxIdentifierLength || hasControl(id) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid_identifier",
			})
		}

		if xssPattern.MatchString(id) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("identifier", id),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid_identifier",
			})
		}

		c.Locals(IdentifierKey, id)
		return c.Next()
	}
}

// ContentType rejects POST and PUT bodies whose type is not allowed.
func ContentType(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		for _, allowedType := range allowed {
			if strings.Contains(contentType, allowedType) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "unsupported_content_type",
		})
	}
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
