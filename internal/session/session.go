package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/errors"
)

// Session is one authenticated or anonymous client session.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id,omitempty"`
	Data         map[string]string `json:"data"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	LastAccessed time.Time         `json:"last_accessed"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Store persists sessions. Implementations must be safe for concurrent
// use.
type Store interface {
	Get(id string) (*Session, error)
	Save(s *Session) error
	Delete(id string) error
	// CleanupExpired removes expired sessions and returns how many were
	// removed.
	CleanupExpired() (int, error)
	List() ([]*Session, error)
	Count() (int, error)
	Close() error
}

// NewStore builds a store from the session configuration.
func NewStore(cfg config.SessionConfig) (Store, error) {
	switch cfg.Storage {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		dir, _ := cfg.StorageConfig["dir"].(string)
		if dir == "" {
			dir = "./sessions"
		}
		return NewFileStore(dir)
	case "sqlite":
		path, _ := cfg.StorageConfig["path"].(string)
		if path == "" {
			path = "./sessions.db"
		}
		return NewSQLiteStore(path)
	case "redis":
		addr, _ := cfg.StorageConfig["addr"].(string)
		if addr == "" {
			addr = "localhost:6379"
		}
		password, _ := cfg.StorageConfig["password"].(string)
		return NewRedisStore(addr, password, intOption(cfg.StorageConfig["db"])), nil
	default:
		return nil, errors.Newf(errors.KindConfig, "unknown session storage: %s", cfg.Storage)
	}
}

// intOption coerces a YAML-decoded scalar to int.
func intOption(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Manager creates, resolves, and expires sessions on top of a Store.
type Manager struct {
	store   Store
	timeout time.Duration
	cookie  config.SessionConfig
}

// NewManager creates a session manager.
func NewManager(store Store, cfg config.SessionConfig) *Manager {
	return &Manager{store: store, timeout: cfg.Timeout(), cookie: cfg}
}

// Create starts a new session for the given user (empty for anonymous).
func (m *Manager) Create(userID string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Data:         map[string]string{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
		LastAccessed: now,
	}
	if err := m.store.Save(s); err != nil {
		return nil, errors.Wrap(err, errors.KindSession, "failed to save session")
	}
	return s, nil
}

// Get resolves a session by id. Expired sessions are deleted and reported
// as missing; live sessions get their expiry refreshed.
func (m *Manager) Get(id string) (*Session, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	if s.Expired() {
		m.store.Delete(id)
		return nil, nil
	}

	now := time.Now()
	s.LastAccessed = now
	s.ExpiresAt = now.Add(m.timeout)
	if err := m.store.Save(s); err != nil {
		return nil, errors.Wrap(err, errors.KindSession, "failed to refresh session")
	}
	return s, nil
}

// Save persists session data changes.
func (m *Manager) Save(s *Session) error {
	return m.store.Save(s)
}

// Delete removes a session.
func (m *Manager) Delete(id string) error {
	return m.store.Delete(id)
}

// CleanupExpired removes all expired sessions.
func (m *Manager) CleanupExpired() (int, error) {
	return m.store.CleanupExpired()
}

// List returns all stored sessions.
func (m *Manager) List() ([]*Session, error) {
	return m.store.List()
}

// Count returns the number of stored sessions.
func (m *Manager) Count() (int, error) {
	return m.store.Count()
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// CookieName returns the configured session cookie name.
func (m *Manager) CookieName() string {
	return m.cookie.CookieName
}

// SessionIDFromRequest extracts the session id from the configured cookie,
// or "" when absent.
func (m *Manager) SessionIDFromRequest(r *http.Request) string {
	return CookieValue(r.Header.Get("Cookie"), m.cookie.CookieName)
}

// SetCookieHeader builds the Set-Cookie value for a session. Max-Age is
// derived from the session's expiry, not the configured timeout.
func (m *Manager) SetCookieHeader(s *Session) string {
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s; Path=/; Max-Age=%d", m.cookie.CookieName, s.ID, maxAge)
	if m.cookie.CookieHTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if m.cookie.CookieSecure {
		b.WriteString("; Secure")
	}
	return b.String()
}

// CookieValue extracts a named cookie from a raw Cookie header. Pairs are
// split on ";" then "="; malformed pairs are skipped.
func CookieValue(header, name string) string {
	for _, pair := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if k == name {
			return v
		}
	}
	return ""
}
