// Package mock serves configurable canned responses, optionally rendered
// through the template engine, so clients can develop against endpoints
// that do not exist yet.
package mock

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/plugin"
	"github.com/noxd/nox/internal/router"
	"github.com/noxd/nox/internal/template"
)

const recordedRequestLimit = 1000

// compiledRoute is a mock route with its path matcher prebuilt.
type compiledRoute struct {
	scenario string
	route    config.MockRoute
	pattern  *regexp.Regexp
}

// RecordedRequest is one request the mock plugin answered, kept for
// inspection.
type RecordedRequest struct {
	Timestamp time.Time         `json:"timestamp"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Scenario  string            `json:"scenario"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Plugin answers matching requests with configured mock responses at the
// pre-handler stage.
type Plugin struct {
	plugin.BasePlugin

	mu           sync.RWMutex
	routes       []compiledRoute
	defaultDelay time.Duration
	record       bool
	recorded     []RecordedRequest
	engine       *template.Engine
}

// New creates an uninitialized mock plugin.
func New() *Plugin {
	return &Plugin{engine: template.New()}
}

func (*Plugin) Name() string        { return "mock" }
func (*Plugin) Version() string     { return "1.0.0" }
func (*Plugin) Description() string { return "serves configured mock responses" }
func (*Plugin) Priority() int       { return 50 }

func (*Plugin) HandlesHook(h plugin.Hook) bool {
	return h == plugin.HookPreHandler
}

// Initialize parses the plugin's config section and compiles all route
// patterns. Scenarios disabled in config are skipped entirely.
func (p *Plugin) Initialize(raw []byte) error {
	var cfg config.MockConfig
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return errors.Wrap(err, errors.KindConfig, "invalid mock config")
		}
	}
	return p.Configure(cfg)
}

// Configure applies a parsed mock configuration.
func (p *Plugin) Configure(cfg config.MockConfig) error {
	var routes []compiledRoute
	for _, scenario := range cfg.Scenarios {
		if !scenario.Active() {
			continue
		}
		for _, route := range scenario.Routes {
			pattern, err := router.CompilePattern(route.Path)
			if err != nil {
				return errors.Wrap(err, errors.KindConfig,
					fmt.Sprintf("scenario %s: bad path %q", scenario.Name, route.Path))
			}
			routes = append(routes, compiledRoute{
				scenario: scenario.Name,
				route:    route,
				pattern:  pattern,
			})
		}
	}

	p.mu.Lock()
	p.routes = routes
	p.defaultDelay = time.Duration(cfg.DefaultDelayMs) * time.Millisecond
	p.record = cfg.RecordRequests
	p.mu.Unlock()

	logging.Debug("mock plugin configured", zap.Int("routes", len(routes)))
	return nil
}

// PreHandler intercepts matching requests and serves the configured
// response. Non-matching requests continue to the real handler.
func (p *Plugin) PreHandler(ctx *plugin.Context) plugin.Result {
	match, params := p.match(ctx)
	if match == nil {
		return plugin.Continue()
	}

	p.recordRequest(ctx, match.scenario)

	resp, err := p.buildResponse(match, ctx, params)
	if err != nil {
		return plugin.Fail(err)
	}
	return plugin.Respond(resp)
}

func (p *Plugin) match(ctx *plugin.Context) (*compiledRoute, map[string]string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for i := range p.routes {
		cr := &p.routes[i]
		if cr.route.Method != "" && !strings.EqualFold(cr.route.Method, ctx.Method) {
			continue
		}

		captures := cr.pattern.FindStringSubmatch(ctx.Path)
		if captures == nil {
			continue
		}

		if !headersMatch(cr.route.Headers, ctx.Headers) || !queryMatches(cr.route.Query, ctx.Query) {
			continue
		}

		params := make(map[string]string)
		for j, name := range cr.pattern.SubexpNames() {
			if j > 0 && name != "" && j < len(captures) {
				params[name] = captures[j]
			}
		}
		return cr, params
	}
	return nil, nil
}

func headersMatch(want map[string]string, got http.Header) bool {
	for k, v := range want {
		if got.Get(k) != v {
			return false
		}
	}
	return true
}

func queryMatches(want, got map[string]string) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func (p *Plugin) buildResponse(cr *compiledRoute, ctx *plugin.Context, params map[string]string) (*plugin.Response, error) {
	spec := cr.route.Response

	body := spec.Body
	if spec.BodyFile != "" {
		data, err := os.ReadFile(spec.BodyFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindHandler,
				fmt.Sprintf("failed to read mock body file %s", spec.BodyFile))
		}
		body = string(data)
	}

	if spec.Template {
		rendered, err := p.engine.Render(body, templateData(ctx, params))
		if err != nil {
			return nil, err
		}
		body = rendered
	}

	delay := p.defaultDelay
	if spec.DelayMs > 0 {
		delay = time.Duration(spec.DelayMs) * time.Millisecond
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range spec.Headers {
		headers[k] = v
	}

	status := spec.Status
	if status == 0 {
		status = http.StatusOK
	}

	return &plugin.Response{Status: status, Headers: headers, Body: []byte(body)}, nil
}

// templateData is the render context handed to mock body templates.
func templateData(ctx *plugin.Context, params map[string]string) map[string]any {
	headers := make(map[string]string, len(ctx.Headers))
	for k := range ctx.Headers {
		headers[k] = ctx.Headers.Get(k)
	}
	return map[string]any{
		"method":     ctx.Method,
		"path":       ctx.Path,
		"params":     params,
		"query":      ctx.Query,
		"headers":    headers,
		"session_id": ctx.SessionID,
		"user_id":    ctx.UserID,
	}
}

func (p *Plugin) recordRequest(ctx *plugin.Context, scenario string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.record {
		return
	}

	headers := make(map[string]string, len(ctx.Headers))
	for k := range ctx.Headers {
		headers[k] = ctx.Headers.Get(k)
	}
	p.recorded = append(p.recorded, RecordedRequest{
		Timestamp: time.Now(),
		Method:    ctx.Method,
		Path:      ctx.Path,
		Scenario:  scenario,
		Headers:   headers,
	})
	if len(p.recorded) > recordedRequestLimit {
		p.recorded = p.recorded[len(p.recorded)-recordedRequestLimit:]
	}
}

// RecordedRequests returns a copy of the recorded request ring.
func (p *Plugin) RecordedRequests() []RecordedRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RecordedRequest, len(p.recorded))
	copy(out, p.recorded)
	return out
}

// ClearRecorded empties the recorded request ring.
func (p *Plugin) ClearRecorded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = nil
}
