// Package accesslog writes one structured log line per request.
package accesslog

import (
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/plugin"
)

const startKey = "accesslog_start_ns"

// options is the plugin's config section.
type options struct {
	// SkipPaths are not logged (health probes, metrics scrapes).
	SkipPaths []string `yaml:"skip_paths"`
}

// Plugin times each request and logs it after the response is sent.
type Plugin struct {
	plugin.BasePlugin

	skip map[string]bool
}

// New creates the access log plugin.
func New() *Plugin {
	return &Plugin{skip: map[string]bool{}}
}

func (*Plugin) Name() string        { return "access_log" }
func (*Plugin) Version() string     { return "1.0.0" }
func (*Plugin) Description() string { return "structured per-request access logging" }
func (*Plugin) Priority() int       { return 5 }

func (*Plugin) HandlesHook(h plugin.Hook) bool {
	return h == plugin.HookPreRequest || h == plugin.HookPostResponse
}

func (p *Plugin) Initialize(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var opts options
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return errors.Wrap(err, errors.KindConfig, "invalid access_log config")
	}
	for _, path := range opts.SkipPaths {
		p.skip[path] = true
	}
	return nil
}

func (p *Plugin) PreRequest(ctx *plugin.Context) plugin.Result {
	ctx.Metadata[startKey] = time.Now().Format(time.RFC3339Nano)
	return plugin.Continue()
}

func (p *Plugin) PostResponse(ctx *plugin.Context) plugin.Result {
	if p.skip[ctx.Path] {
		return plugin.Continue()
	}

	fields := []zap.Field{
		zap.String("method", ctx.Method),
		zap.String("path", ctx.Path),
		zap.Int("status", ctx.Status),
	}
	if start, err := time.Parse(time.RFC3339Nano, ctx.Metadata[startKey]); err == nil {
		fields = append(fields, zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
	if ctx.UserID != "" {
		fields = append(fields, zap.String("user", ctx.UserID))
	}
	if ctx.SessionID != "" {
		fields = append(fields, zap.String("session", ctx.SessionID))
	}

	logging.Info("request", fields...)
	return plugin.Continue()
}
