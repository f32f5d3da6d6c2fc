package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// BasicProvider validates HTTP Basic credentials against a user table.
type BasicProvider struct {
	realm string
	users map[string]string // username -> password
}

// NewBasicProvider creates a basic-auth provider.
func NewBasicProvider(realm string, users map[string]string) *BasicProvider {
	if realm == "" {
		realm = "Restricted"
	}
	if users == nil {
		users = map[string]string{}
	}
	return &BasicProvider{realm: realm, users: users}
}

func (*BasicProvider) Name() string { return "basic" }

func (b *BasicProvider) Challenge() string {
	return fmt.Sprintf(`Basic realm=%q`, b.realm)
}

func (b *BasicProvider) Authenticate(r *http.Request) Decision {
	header := r.Header.Get("Authorization")
	if header == "" {
		return NoAuth()
	}

	payload, ok := authorizationScheme(r, "Basic")
	if !ok {
		return Failed("unsupported authorization scheme")
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Failed("invalid base64 in credentials")
	}

	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return Failed("malformed credentials")
	}

	want, exists := b.users[username]
	if !exists || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return Failed("invalid username or password")
	}

	return Success(&User{ID: username, Name: username})
}
