// Package authz enforces the configured authentication strategy before
// route handlers run.
package authz

import (
	"net/http"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/auth"
	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/plugin"
)

// options is the plugin's config section.
type options struct {
	// PublicPaths pass through without credentials. A trailing *
	// matches any suffix.
	PublicPaths []string `yaml:"public_paths"`
}

// Plugin authenticates requests with the configured provider. Requests
// carrying no credentials and rejected requests both get 401; the
// distinction is kept in the response message and logs.
type Plugin struct {
	plugin.BasePlugin

	provider    auth.Provider
	publicPaths []string
}

// New creates the auth plugin around a provider.
func New(provider auth.Provider) *Plugin {
	return &Plugin{
		provider:    provider,
		publicPaths: []string{"/health", "/health/*", "/ready", "/metrics", "/nox/handshake"},
	}
}

func (*Plugin) Name() string        { return "auth" }
func (*Plugin) Version() string     { return "1.0.0" }
func (*Plugin) Description() string { return "authenticates requests" }
func (*Plugin) Priority() int       { return 20 }

func (*Plugin) HandlesHook(h plugin.Hook) bool {
	return h == plugin.HookPreHandler
}

func (p *Plugin) Initialize(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var opts options
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return errors.Wrap(err, errors.KindConfig, "invalid auth config")
	}
	if len(opts.PublicPaths) > 0 {
		p.publicPaths = append(p.publicPaths, opts.PublicPaths...)
	}
	return nil
}

func (p *Plugin) PreHandler(ctx *plugin.Context) plugin.Result {
	if p.provider == nil || p.isPublic(ctx.Path) {
		return plugin.Continue()
	}

	// Providers only inspect headers, so a header-only request suffices.
	decision := p.provider.Authenticate(&http.Request{Header: ctx.Headers})
	switch decision.Outcome {
	case auth.OutcomeSuccess:
		ctx.UserID = decision.User.ID
		return plugin.Continue()

	case auth.OutcomeNoAuth:
		return p.unauthorized("authentication required")

	default: // OutcomeFailed
		logging.Debug("authentication rejected",
			zap.String("path", ctx.Path),
			zap.String("reason", decision.Reason))
		return p.unauthorized("invalid credentials")
	}
}

func (p *Plugin) unauthorized(message string) plugin.Result {
	headers := map[string]string{"Content-Type": "application/json"}
	if challenge := p.provider.Challenge(); challenge != "" {
		headers["WWW-Authenticate"] = challenge
	}
	body := errors.Unauthorized(message).MarshalBody()
	return plugin.Respond(&plugin.Response{
		Status:  http.StatusUnauthorized,
		Headers: headers,
		Body:    body,
	})
}

func (p *Plugin) isPublic(path string) bool {
	for _, pattern := range p.publicPaths {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		} else if path == pattern {
			return true
		}
	}
	return false
}
