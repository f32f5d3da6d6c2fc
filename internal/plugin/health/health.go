// Package health exposes liveness, readiness, and metrics endpoints and
// keeps the request counters they report.
package health

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/plugin"
)

// options is the plugin's config section.
type options struct {
	Path     string `yaml:"path"`
	Detailed bool   `yaml:"detailed"`
}

// Plugin serves the health endpoints and records request metrics.
type Plugin struct {
	plugin.BasePlugin

	path     string
	detailed bool
	started  time.Time

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	errorsC  prometheus.Counter
	duration prometheus.Histogram
}

// New creates the health plugin with its own metrics registry.
func New() *Plugin {
	p := &Plugin{
		path:     "/health",
		started:  time.Now(),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nox_requests_total",
			Help: "Total requests served, by method and status.",
		}, []string{"method", "status"}),
		errorsC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nox_request_errors_total",
			Help: "Total requests that ended in an error.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nox_request_duration_seconds",
			Help:    "Request latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	p.registry.MustRegister(p.requests, p.errorsC, p.duration)
	return p
}

func (*Plugin) Name() string        { return "health" }
func (*Plugin) Version() string     { return "1.0.0" }
func (*Plugin) Description() string { return "health, readiness, and metrics endpoints" }
func (*Plugin) Priority() int       { return 10 }

func (*Plugin) HandlesHook(h plugin.Hook) bool {
	switch h {
	case plugin.HookPreRequest, plugin.HookPreHandler, plugin.HookPostResponse, plugin.HookOnError:
		return true
	}
	return false
}

func (p *Plugin) Initialize(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var opts options
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return errors.Wrap(err, errors.KindConfig, "invalid health config")
	}
	if opts.Path != "" {
		p.path = opts.Path
	}
	p.detailed = opts.Detailed
	return nil
}

// startKey is the metadata slot holding the request arrival time in
// nanoseconds. The plugin stamps it itself so the latency histogram does
// not depend on any other plugin being enabled.
const startKey = "health_start_ns"

// PreRequest stamps the arrival time for the latency histogram.
func (p *Plugin) PreRequest(ctx *plugin.Context) plugin.Result {
	ctx.Metadata[startKey] = strconv.FormatInt(time.Now().UnixNano(), 10)
	return plugin.Continue()
}

// PreHandler answers the health endpoints before any route handler runs.
func (p *Plugin) PreHandler(ctx *plugin.Context) plugin.Result {
	switch ctx.Path {
	case p.path:
		return p.healthResponse()
	case p.path + "/ready", "/ready":
		return jsonResponse(http.StatusOK, map[string]any{"ready": true})
	case p.path + "/metrics", "/metrics":
		return p.metricsResponse()
	}
	return plugin.Continue()
}

// PostResponse records the finished request in the counters.
func (p *Plugin) PostResponse(ctx *plugin.Context) plugin.Result {
	status := ctx.Status
	if status == 0 {
		status = http.StatusOK
	}
	p.requests.WithLabelValues(ctx.Method, fmt.Sprintf("%d", status)).Inc()
	if raw, ok := ctx.Metadata[startKey]; ok {
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			p.duration.Observe(time.Since(time.Unix(0, ns)).Seconds())
		}
	}
	return plugin.Continue()
}

// OnError counts failed requests.
func (p *Plugin) OnError(ctx *plugin.Context, reqErr error) plugin.Result {
	p.errorsC.Inc()
	return plugin.Continue()
}

func (p *Plugin) healthResponse() plugin.Result {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(p.started).Round(time.Second).String(),
	}
	if p.detailed {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		body["goroutines"] = runtime.NumGoroutine()
		body["heap_alloc_bytes"] = mem.HeapAlloc
		body["num_gc"] = mem.NumGC
		body["go_version"] = runtime.Version()
	}
	return jsonResponse(http.StatusOK, body)
}

func (p *Plugin) metricsResponse() plugin.Result {
	families, err := p.registry.Gather()
	if err != nil {
		return plugin.Fail(errors.Wrap(err, errors.KindInternal, "failed to gather metrics"))
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return plugin.Fail(errors.Wrap(err, errors.KindInternal, "failed to encode metrics"))
		}
	}

	return plugin.Respond(&plugin.Response{
		Status:  http.StatusOK,
		Headers: map[string]string{"Content-Type": string(expfmt.NewFormat(expfmt.TypeTextPlain))},
		Body:    buf.Bytes(),
	})
}

func jsonResponse(status int, v any) plugin.Result {
	body, err := json.Marshal(v)
	if err != nil {
		return plugin.Fail(errors.Wrap(err, errors.KindSerialization, "failed to encode health response"))
	}
	return plugin.Respond(&plugin.Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
}
