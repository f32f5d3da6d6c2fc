package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/handler"
	"github.com/noxd/nox/internal/loadbalancer"
	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/plugin"
)

// hopByHopHeaders never cross the proxy in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
}

const (
	retryBaseInterval   = 100 * time.Millisecond
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// Proxy forwards requests to a pool of upstreams with retries and
// background health probing. It implements handler.Handler.
type Proxy struct {
	pool          *loadbalancer.Pool
	client        *http.Client
	retryAttempts int
	stopHealth    chan struct{}
}

// New builds a proxy from configuration. The upstream URLs must already be
// validated.
func New(cfg config.ProxyConfig) (*Proxy, error) {
	upstreams := make([]*loadbalancer.Upstream, 0, len(cfg.Upstreams))
	for _, uc := range cfg.Upstreams {
		u, err := url.Parse(uc.URL)
		if err != nil {
			return nil, errors.Newf(errors.KindConfig, "upstream %s: invalid url %q", uc.Name, uc.URL)
		}
		upstreams = append(upstreams, loadbalancer.NewUpstream(uc.Name, u, uc.Weight, uc.HealthCheck))
	}

	return &Proxy{
		pool: loadbalancer.NewPool(upstreams, loadbalancer.NewStrategy(cfg.Strategy)),
		client: &http.Client{
			Timeout: cfg.Timeout(),
			// Redirects pass through to the client untouched.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retryAttempts: cfg.RetryAttempts,
		stopHealth:    make(chan struct{}),
	}, nil
}

func (p *Proxy) Name() string { return "proxy" }

// Pool exposes the upstream pool for stats and health reporting.
func (p *Proxy) Pool() *loadbalancer.Pool { return p.pool }

// Handle forwards the request to a healthy upstream, retrying transient
// failures with exponential backoff. Each attempt reselects an upstream,
// so retries naturally fail over.
func (p *Proxy) Handle(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
	// Buffer the body once so retries can replay it.
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return handler.Result{}, errors.Wrap(err, errors.KindBadRequest, "failed to read request body")
		}
		body = b
	}

	policy := backoff.WithMaxRetries(p.newBackoff(), uint64(p.retryAttempts))

	var resp *response
	var lastErr error
	err := backoff.Retry(func() error {
		upstream := p.pool.Pick()
		if upstream == nil {
			lastErr = errors.ServiceUnavailable("no healthy upstreams available")
			return backoff.Permanent(lastErr)
		}

		res, err := p.forward(r, upstream, body)
		if err != nil {
			lastErr = err
			return err
		}
		resp = res
		return nil
	}, policy)

	if err != nil {
		if lastErr == nil {
			lastErr = errors.ServiceUnavailable("all retry attempts failed")
		}
		return handler.Result{}, lastErr
	}

	return handler.Respond(&handler.Response{
		Status:  resp.status,
		Headers: resp.headers,
		Body:    resp.body,
	}), nil
}

func (p *Proxy) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

type response struct {
	status  int
	headers map[string]string
	body    []byte
}

// forward sends one attempt to the given upstream. Timeouts mark the
// upstream unhealthy until the next successful health probe.
func (p *Proxy) forward(r *http.Request, upstream *loadbalancer.Upstream, body []byte) (*response, error) {
	upstream.RecordRequest()
	upstream.Acquire()
	defer upstream.Release()

	target := *upstream.URL
	target.Path = singleJoin(upstream.URL.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "failed to build upstream request")
	}

	copyHeaders(req.Header, r.Header)
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	req.Header.Set("X-Forwarded-Host", r.Host)

	res, err := p.client.Do(req)
	if err != nil {
		upstream.RecordFailure()
		if isTimeout(err) {
			upstream.SetHealthy(false)
			logging.Warn("upstream timed out, marked unhealthy",
				zap.String("upstream", upstream.Name))
			return nil, errors.Timeout()
		}
		return nil, errors.Wrap(err, errors.KindTransport,
			fmt.Sprintf("upstream %s request failed", upstream.Name))
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		upstream.RecordFailure()
		return nil, errors.Wrap(err, errors.KindTransport,
			fmt.Sprintf("failed to read response from upstream %s", upstream.Name))
	}

	headers := make(map[string]string)
	stripped := http.Header{}
	copyHeaders(stripped, res.Header)
	for k := range stripped {
		headers[k] = stripped.Get(k)
	}

	return &response{status: res.StatusCode, headers: headers, body: respBody}, nil
}

// copyHeaders copies src into dst, dropping hop-by-hop headers and any
// headers they nominate via Connection.
func copyHeaders(dst, src http.Header) {
	perMessage := map[string]bool{}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				perMessage[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for k, vs := range src {
		if perMessage[k] || isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout exceeded")
}

func singleJoin(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}

// StartHealthChecks launches the background health prober. Upstreams
// without a health check path are left at their current state.
func (p *Proxy) StartHealthChecks() {
	go p.healthLoop()
}

// StopHealthChecks stops the background prober.
func (p *Proxy) StopHealthChecks() {
	close(p.stopHealth)
}

func (p *Proxy) healthLoop() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	p.probeAll()
	for {
		select {
		case <-ticker.C:
			p.probeAll()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *Proxy) probeAll() {
	for _, u := range p.pool.Upstreams() {
		if u.HealthCheck == "" {
			continue
		}
		healthy := p.probe(u)
		if healthy != u.Healthy() {
			logging.Info("upstream health changed",
				zap.String("upstream", u.Name),
				zap.Bool("healthy", healthy))
		}
		u.SetHealthy(healthy)
	}
}

// probe performs one health check; any 2xx response counts as healthy.
func (p *Proxy) probe(u *loadbalancer.Upstream) bool {
	target := *u.URL
	target.Path = singleJoin(u.URL.Path, u.HealthCheck)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false
	}
	res, err := p.client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	return res.StatusCode >= 200 && res.StatusCode < 300
}

// UpstreamStatus is one row of the proxy stats report.
type UpstreamStatus struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Healthy  bool   `json:"healthy"`
	Requests uint64 `json:"requests"`
	Failures uint64 `json:"failures"`
	Inflight int64  `json:"inflight"`
}

// Stats reports the current state of every upstream.
func (p *Proxy) Stats() []UpstreamStatus {
	ups := p.pool.Upstreams()
	out := make([]UpstreamStatus, 0, len(ups))
	for _, u := range ups {
		out = append(out, UpstreamStatus{
			Name:     u.Name,
			URL:      u.URL.String(),
			Healthy:  u.Healthy(),
			Requests: u.Requests(),
			Failures: u.Failures(),
			Inflight: u.Inflight(),
		})
	}
	return out
}
