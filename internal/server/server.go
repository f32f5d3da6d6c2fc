// Package server wires the router, plugin pipeline, and handlers into an
// HTTP server.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noxd/nox/internal/auth"
	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/handler"
	"github.com/noxd/nox/internal/loadbalancer"
	"github.com/noxd/nox/internal/logging"
	"github.com/noxd/nox/internal/plugin"
	"github.com/noxd/nox/internal/plugin/accesslog"
	"github.com/noxd/nox/internal/plugin/authz"
	"github.com/noxd/nox/internal/plugin/health"
	"github.com/noxd/nox/internal/plugin/mock"
	"github.com/noxd/nox/internal/plugin/sessionmw"
	"github.com/noxd/nox/internal/proxy"
	"github.com/noxd/nox/internal/router"
	"github.com/noxd/nox/internal/session"
)

const (
	serverName         = "nox"
	serverVersion      = "0.1.0"
	handshakeToken     = "kick-nox-v1"
	proxyRoutePriority = 1000
)

// Server is the configured HTTP server with its plugin pipeline.
type Server struct {
	cfg      *config.Config
	router   *router.Router
	plugins  *plugin.Manager
	sessions *session.Manager
	prox     *proxy.Proxy

	httpServer *http.Server
	shutdownMu sync.Mutex
	shutdown   bool
}

// New builds a server from configuration: stores, providers, plugins, and
// built-in routes. Setup failures are fatal to the caller.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		router:  router.New(),
		plugins: plugin.NewManager(),
	}

	store, err := session.NewStore(cfg.Session)
	if err != nil {
		return nil, err
	}
	s.sessions = session.NewManager(store, cfg.Session)

	if err := s.registerPlugins(); err != nil {
		return nil, err
	}
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) registerPlugins() error {
	for _, name := range s.cfg.Plugins.Enabled {
		var p plugin.Plugin
		switch name {
		case "mock":
			// The mock plugin reads the typed top-level mock section, not
			// a per-plugin blob.
			mp := mock.New()
			if err := mp.Configure(s.cfg.Mock); err != nil {
				return err
			}
			p = mp
		case "health":
			hp := health.New()
			if err := hp.Initialize(healthBlob(s.cfg.Health)); err != nil {
				return err
			}
			p = hp
		case "auth":
			provider, err := auth.NewProvider(s.cfg.Auth)
			if err != nil {
				return err
			}
			ap := authz.New(provider)
			if err := initializeFromBlob(ap, s.cfg, name); err != nil {
				return err
			}
			p = ap
		case "session":
			p = sessionmw.New(s.sessions)
		case "access_log":
			lp := accesslog.New()
			if err := initializeFromBlob(lp, s.cfg, name); err != nil {
				return err
			}
			p = lp
		default:
			return errors.Newf(errors.KindConfig, "unknown plugin: %s", name)
		}

		if err := s.plugins.Register(p); err != nil {
			return err
		}
	}

	// request_logging implies the access log plugin even when the enabled
	// list omits it.
	if s.cfg.Logging.RequestLogging && !s.cfg.PluginEnabled("access_log") {
		if err := s.plugins.Register(accesslog.New()); err != nil {
			return err
		}
	}

	return nil
}

func initializeFromBlob(p plugin.Plugin, cfg *config.Config, name string) error {
	blob, err := cfg.PluginBlob(name)
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return p.Initialize(blob)
}

func healthBlob(h config.HealthConfig) []byte {
	out := ""
	if h.Path != "" {
		out += "path: " + h.Path + "\n"
	}
	if h.Detailed {
		out += "detailed: true\n"
	}
	return []byte(out)
}

func (s *Server) registerRoutes() error {
	if err := s.router.AddRoute(router.Get("/").WithPriority(10), handler.JSON{
		Value: map[string]string{
			"server":  serverName,
			"version": serverVersion,
			"status":  "running",
		},
	}); err != nil {
		return err
	}

	if err := s.router.AddRoute(router.Get("/nox/handshake").WithPriority(10),
		handler.Func{HandlerName: "handshake", Fn: s.handshake}); err != nil {
		return err
	}

	if s.cfg.StaticFiles.Enabled {
		static := handler.NewStatic(s.cfg.StaticFiles.RootDir, s.cfg.StaticFiles.Prefix)
		if len(s.cfg.StaticFiles.IndexFiles) > 0 {
			static.IndexFiles = s.cfg.StaticFiles.IndexFiles
		}
		if s.cfg.StaticFiles.CacheControl != "" {
			static.CacheControl = s.cfg.StaticFiles.CacheControl
		}
		prefix := s.cfg.StaticFiles.Prefix
		if prefix == "" {
			prefix = "/static"
			static.Prefix = prefix
		}
		route := router.Get(prefix + "/{path}").WithRegex("^" + prefix + "(/.*)?$").WithPriority(500)
		if err := s.router.AddRoute(route, static); err != nil {
			return err
		}
	}

	if s.cfg.Proxy.Enabled {
		prox, err := proxy.New(s.cfg.Proxy)
		if err != nil {
			return err
		}
		s.prox = prox
		// Catch-all behind every explicit route.
		route := router.Any("/{path}").WithRegex("^/.*$").WithPriority(proxyRoutePriority)
		if err := s.router.AddRoute(route, prox); err != nil {
			return err
		}
	}

	return nil
}

// handshake identifies the server to probing clients.
func (s *Server) handshake(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
	return handler.Respond(&handler.Response{
		Status: http.StatusOK,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"X-Server":     "NOX",
			"X-Handshake":  handshakeToken,
		},
		Body: []byte(`{"server":"` + serverName + `","version":"` + serverVersion +
			`","handshake":"` + handshakeToken + `","capabilities":["mock","health","config"]}`),
	}), nil
}

// Router exposes the route table for programmatic registration.
func (s *Server) Router() *router.Router { return s.router }

// Plugins exposes the plugin manager.
func (s *Server) Plugins() *plugin.Manager { return s.plugins }

// Sessions exposes the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Config returns the active configuration.
func (s *Server) Config() *config.Config { return s.cfg }

// ProxyStats returns upstream stats when the proxy is enabled.
func (s *Server) ProxyStats() []proxy.UpstreamStatus {
	if s.prox == nil {
		return nil
	}
	return s.prox.Stats()
}

// ProxyPool returns the upstream pool when the proxy is enabled.
func (s *Server) ProxyPool() *loadbalancer.Pool {
	if s.prox == nil {
		return nil
	}
	return s.prox.Pool()
}

// ServeHTTP runs one request through the full pipeline.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := plugin.NewContext(r)

	if resp, err := s.plugins.Dispatch(plugin.HookPreRequest, ctx); err != nil {
		s.fail(w, ctx, err)
		return
	} else if resp != nil {
		s.write(w, ctx, resp)
		return
	}

	match := s.router.FindRoute(r.Method, r.URL.Path)
	if match != nil {
		ctx.Params = match.Params
	}

	// Post-route runs whether or not a route matched; plugins can observe
	// (and answer) unrouted requests too.
	if resp, err := s.plugins.Dispatch(plugin.HookPostRoute, ctx); err != nil {
		s.fail(w, ctx, err)
		return
	} else if resp != nil {
		s.write(w, ctx, resp)
		return
	}

	if resp, err := s.plugins.Dispatch(plugin.HookPreHandler, ctx); err != nil {
		s.fail(w, ctx, err)
		return
	} else if resp != nil {
		s.write(w, ctx, resp)
		return
	}

	var resp *plugin.Response
	if match == nil {
		// A plain 404 is an ordinary response, not an error: it takes the
		// normal post-handler path and never fires the error hooks.
		resp = notFoundResponse(r.URL.Path)
	} else {
		result, err := match.Handler.Handle(r, ctx)
		if err != nil {
			s.fail(w, ctx, err)
			return
		}
		switch {
		case result.NotFound:
			resp = notFoundResponse(r.URL.Path)
		case result.Response == nil:
			s.fail(w, ctx, errors.Internal("handler returned no response"))
			return
		default:
			resp = &plugin.Response{
				Status:  result.Response.Status,
				Headers: result.Response.Headers,
				Body:    result.Response.Body,
			}
		}
	}
	ctx.Status = resp.Status

	if _, err := s.plugins.Dispatch(plugin.HookPostHandler, ctx); err != nil {
		s.fail(w, ctx, err)
		return
	}
	if _, err := s.plugins.Dispatch(plugin.HookPreResponse, ctx); err != nil {
		s.fail(w, ctx, err)
		return
	}

	s.write(w, ctx, resp)
}

// notFoundResponse renders the standard 404 body for unrouted paths and
// handler declines.
func notFoundResponse(path string) *plugin.Response {
	se := errors.NotFound("no route matches " + path)
	return &plugin.Response{
		Status:  se.StatusCode(),
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    se.MarshalBody(),
	}
}

// write sends the response and runs the post-response chain.
func (s *Server) write(w http.ResponseWriter, ctx *plugin.Context, resp *plugin.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if cookie, ok := sessionmw.SetCookie(ctx); ok {
		w.Header().Set("Set-Cookie", cookie)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	ctx.Status = status

	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}

	s.plugins.Dispatch(plugin.HookPostResponse, ctx)
}

// fail routes an error through the OnError chain, then renders either the
// substituted response or the standard error body.
func (s *Server) fail(w http.ResponseWriter, ctx *plugin.Context, err error) {
	se := errors.FromError(err)

	if !se.IsClientError() {
		logging.Error("request failed",
			zap.String("method", ctx.Method),
			zap.String("path", ctx.Path),
			zap.String("kind", se.Kind.String()),
			zap.Error(err))
	}

	if resp, hookErr := s.plugins.DispatchError(ctx, se); hookErr == nil && resp != nil {
		s.write(w, ctx, resp)
		return
	}

	ctx.Status = se.StatusCode()
	se.WriteJSON(w)
	s.plugins.Dispatch(plugin.HookPostResponse, ctx)
}

// Start runs OnStartup hooks and serves until the listener closes.
func (s *Server) Start() error {
	startupCtx := &plugin.Context{Metadata: map[string]string{}}
	if _, err := s.plugins.Dispatch(plugin.HookOnStartup, startupCtx); err != nil {
		return errors.Wrap(err, errors.KindPlugin, "startup hook failed")
	}

	if s.prox != nil {
		s.prox.StartHealthChecks()
	}

	s.httpServer = &http.Server{
		Addr:        s.cfg.BindAddress(),
		Handler:     http.TimeoutHandler(s, s.cfg.RequestTimeout(), timeoutBody),
		IdleTimeout: s.cfg.KeepAliveTimeout(),
	}

	ln, err := net.Listen("tcp", s.cfg.BindAddress())
	if err != nil {
		return errors.Wrap(err, errors.KindTransport, "failed to bind listener")
	}

	logging.Info("server listening",
		zap.String("addr", s.cfg.BindAddress()),
		zap.Strings("plugins", s.cfg.Plugins.Enabled))

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

const timeoutBody = `{"error":{"message":"request timed out","status":408}}`

// Shutdown drains connections and runs OnShutdown hooks exactly once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.shutdown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.shutdown = true
	s.shutdownMu.Unlock()

	logging.Info("server shutting down")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	if s.prox != nil {
		s.prox.StopHealthChecks()
	}

	shutdownCtx := &plugin.Context{Metadata: map[string]string{}}
	s.plugins.Dispatch(plugin.HookOnShutdown, shutdownCtx)

	if s.sessions != nil {
		s.sessions.Close()
	}

	return err
}

// StartSessionCleanup runs periodic expired-session cleanup until stop is
// closed.
func (s *Server) StartSessionCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := s.sessions.CleanupExpired(); err != nil {
					logging.Warn("session cleanup failed", zap.Error(err))
				} else if n > 0 {
					logging.Debug("expired sessions removed", zap.Int("count", n))
				}
			case <-stop:
				return
			}
		}
	}()
}
