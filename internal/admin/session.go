// Package admin guards the administrator routes with short-lived session
// tokens issued against a single configured account.
package admin

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/boletin/backend/internal/metrics"
)

const (
	TokenHeader = "X-Admin-Token"
	TokenQuery  = "token"
	localsKey   = "admin_session"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoPassword         = errors.New("admin password is not configured")
)

type Config struct {
	Username string
	// PasswordHash is a bcrypt hash; when empty, Password is hashed at startup.
	Password     string
	PasswordHash string
	TTL          time.Duration
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionManager struct {
	username     string
	passwordHash []byte
	ttl          time.Duration
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewSessionManager(cfg Config) (*SessionManager, error) {
	hash := []byte(cfg.PasswordHash)
	if len(hash) == 0 {
		if cfg.Password == "" {
			return nil, ErrNoPassword
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}

	return &SessionManager{
		username:     cfg.Username,
		passwordHash: hash,
		ttl:          cfg.TTL,
		now:          time.Now,
		sessions:     make(map[string]time.Time),
	}, nil
}

// Login checks the credentials and opens a session.
func (m *SessionManager) Login(username, password string) (*Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredentials
	}

	session := &Session{
		Token:     uuid.New().String(),
		ExpiresAt: m.now().Add(m.ttl),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.sessions[session.Token] = session.ExpiresAt
	metrics.AdminSessions.Set(float64(len(m.sessions)))

	return session, nil
}

func (m *SessionManager) Logout(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	metrics.AdminSessions.Set(float64(len(m.sessions)))
}

// Valid reports whether token names an open, unexpired session.
func (m *SessionManager) Valid(token string) bool {
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, ok := m.sessions[token]
	if !ok {
		return false
	}
	if !m.now().Before(expiresAt) {
		delete(m.sessions, token)
		metrics.AdminSessions.Set(float64(len(m.sessions)))
		return false
	}
	return true
}

func (m *SessionManager) pruneLocked() {
	now := m.now()
	for token, expiresAt := range m.sessions {
		if !now.Before(expiresAt) {
			delete(m.sessions, token)
		}
	}
}

// Middleware rejects requests without a valid session token, read from the
// X-Admin-Token header or the token query parameter.
func (m *SessionManager) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := TokenFrom(c)
		if !m.Valid(token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		c.Locals(localsKey, token)
		return c.Next()
	}
}

func TokenFrom(c *fiber.Ctx) string {
	if token := c.Get(TokenHeader); token != "" {
		return token
	}
	return c.Query(TokenQuery)
}
