package auth

import (
	"net/http"
)

const defaultAPIKeyHeader = "X-API-Key"

// APIKeyProvider validates a static key set carried in a request header.
// Valid keys get a synthetic user id derived from the key itself.
type APIKeyProvider struct {
	header string
	keys   map[string]bool
	users  map[string]string // optional key -> user id mapping
}

// NewAPIKeyProvider creates an API-key provider.
func NewAPIKeyProvider(header string, keys []string) *APIKeyProvider {
	if header == "" {
		header = defaultAPIKeyHeader
	}
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	return &APIKeyProvider{header: header, keys: keySet}
}

// WithUserMapping assigns explicit user ids to keys; unmapped keys keep
// the synthetic id.
func (a *APIKeyProvider) WithUserMapping(users map[string]string) *APIKeyProvider {
	a.users = users
	return a
}

func (*APIKeyProvider) Name() string { return "api_key" }

func (*APIKeyProvider) Challenge() string { return "" }

func (a *APIKeyProvider) Authenticate(r *http.Request) Decision {
	key := r.Header.Get(a.header)
	if key == "" {
		return NoAuth()
	}
	if !a.keys[key] {
		return Failed("invalid api key")
	}

	if userID, ok := a.users[key]; ok {
		return Success(&User{ID: userID, Name: userID})
	}
	return Success(&User{ID: syntheticUserID(key)})
}

// syntheticUserID derives a stable user id from the key prefix.
func syntheticUserID(key string) string {
	prefix := key
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "api_key_" + prefix
}
