package auth

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// BearerProvider validates bearer tokens. Tokens are checked against a
// static token table; when a JWT secret is configured, tokens that look
// like JWTs are validated as HMAC-signed JWTs instead, with the subject
// claim becoming the user id.
type BearerProvider struct {
	tokens    map[string]string // token -> user id
	jwtSecret []byte
}

// NewBearerProvider creates a bearer-token provider.
func NewBearerProvider(tokens map[string]string, jwtSecret string) *BearerProvider {
	if tokens == nil {
		tokens = map[string]string{}
	}
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &BearerProvider{tokens: tokens, jwtSecret: secret}
}

func (*BearerProvider) Name() string { return "bearer" }

func (*BearerProvider) Challenge() string { return "Bearer" }

func (b *BearerProvider) Authenticate(r *http.Request) Decision {
	header := r.Header.Get("Authorization")
	if header == "" {
		return NoAuth()
	}

	token, ok := authorizationScheme(r, "Bearer")
	if !ok {
		return Failed("unsupported authorization scheme")
	}
	if token == "" {
		return Failed("empty bearer token")
	}

	if userID, exists := b.tokens[token]; exists {
		return Success(&User{ID: userID, Name: userID})
	}

	if b.jwtSecret != nil {
		return b.validateJWT(token)
	}

	return Failed("unknown token")
}

func (b *BearerProvider) validateJWT(token string) Decision {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return b.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !parsed.Valid {
		return Failed("invalid token")
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return Failed("token has no subject")
	}

	return Success(&User{ID: sub, Name: sub})
}
