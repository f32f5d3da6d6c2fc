// Package sessionmw resolves session cookies at the start of the request
// and issues a session cookie for authenticated requests that lack one.
package sessionmw

import (
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/plugin"
	"github.com/noxd/nox/internal/session"
)

const setCookieKey = "session_set_cookie"

// Plugin resolves and issues sessions around the route handler.
type Plugin struct {
	plugin.BasePlugin

	manager *session.Manager
}

// New creates the session plugin around a manager.
func New(manager *session.Manager) *Plugin {
	return &Plugin{manager: manager}
}

func (*Plugin) Name() string        { return "session" }
func (*Plugin) Version() string     { return "1.0.0" }
func (*Plugin) Description() string { return "resolves and issues sessions" }
func (*Plugin) Priority() int       { return 15 }

func (*Plugin) HandlesHook(h plugin.Hook) bool {
	return h == plugin.HookPreRequest || h == plugin.HookPostHandler
}

// PreRequest resolves the session cookie into ctx.SessionID. Expired and
// unknown ids are dropped silently; the request continues anonymous.
func (p *Plugin) PreRequest(ctx *plugin.Context) plugin.Result {
	id := session.CookieValue(ctx.Headers.Get("Cookie"), p.cookieName())
	if id == "" {
		return plugin.Continue()
	}

	s, err := p.manager.Get(id)
	if err != nil {
		logging.Warn("session lookup failed", zap.Error(err))
		return plugin.Continue()
	}
	if s == nil {
		return plugin.Continue()
	}

	ctx.SessionID = s.ID
	if ctx.UserID == "" {
		ctx.UserID = s.UserID
	}
	return plugin.Continue()
}

// PostHandler creates a session for authenticated requests that arrived
// without one, and flags the new cookie for the response writer.
func (p *Plugin) PostHandler(ctx *plugin.Context) plugin.Result {
	if ctx.SessionID != "" || ctx.UserID == "" {
		return plugin.Continue()
	}

	s, err := p.manager.Create(ctx.UserID)
	if err != nil {
		logging.Warn("failed to create session", zap.Error(err))
		return plugin.Continue()
	}

	ctx.SessionID = s.ID
	ctx.Metadata[setCookieKey] = p.manager.SetCookieHeader(s)
	return plugin.Continue()
}

// SetCookie returns the pending Set-Cookie value for this request, if the
// plugin issued a new session.
func SetCookie(ctx *plugin.Context) (string, bool) {
	v, ok := ctx.Metadata[setCookieKey]
	return v, ok
}

func (p *Plugin) cookieName() string {
	return p.manager.CookieName()
}
