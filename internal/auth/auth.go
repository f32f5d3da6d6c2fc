package auth

import (
	"net/http"
	"strings"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/errors"
)

// User is the authenticated principal attached to a request.
type User struct {
	ID       string
	Name     string
	Metadata map[string]string
}

// Outcome distinguishes "no credentials offered" from "credentials
// rejected". Absence lets anonymous traffic continue on routes that allow
// it; rejection never does.
type Outcome int

const (
	// OutcomeNoAuth means the request carried no credentials.
	OutcomeNoAuth Outcome = iota
	// OutcomeSuccess means the credentials were valid.
	OutcomeSuccess
	// OutcomeFailed means credentials were present but invalid.
	OutcomeFailed
)

// Decision is a provider's verdict on a request.
type Decision struct {
	Outcome Outcome
	User    *User
	Reason  string // set on OutcomeFailed
}

// NoAuth reports that no credentials were offered.
func NoAuth() Decision { return Decision{Outcome: OutcomeNoAuth} }

// Success reports valid credentials for the given user.
func Success(u *User) Decision { return Decision{Outcome: OutcomeSuccess, User: u} }

// Failed reports rejected credentials.
func Failed(reason string) Decision { return Decision{Outcome: OutcomeFailed, Reason: reason} }

// Provider implements one authentication strategy.
type Provider interface {
	Name() string
	// Authenticate inspects the request's credentials.
	Authenticate(r *http.Request) Decision
	// Challenge is the WWW-Authenticate value sent with 401 responses,
	// empty if the scheme has none.
	Challenge() string
}

// NewProvider builds a provider from the auth configuration.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Strategy {
	case "", "none":
		return nil, nil
	case "basic":
		return NewBasicProvider(cfg.Realm, cfg.Users), nil
	case "bearer":
		return NewBearerProvider(cfg.Users, cfg.JWTSecret), nil
	case "api_key":
		return NewAPIKeyProvider(cfg.HeaderName, cfg.APIKeys), nil
	default:
		return nil, errors.Newf(errors.KindConfig, "unknown auth strategy: %s", cfg.Strategy)
	}
}

// authorizationScheme splits an Authorization header into scheme and
// payload. Returns ok=false when the header is absent or malformed.
func authorizationScheme(r *http.Request, scheme string) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], scheme) {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
