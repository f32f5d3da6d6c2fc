package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/noxd/nox/internal/config"
	"github.com/noxd/nox/internal/errors"
	"github.com/noxd/nox/internal/handler"
	"github.com/noxd/nox/internal/plugin"
	"github.com/noxd/nox/internal/router"
)

func testServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Plugins.Enabled = []string{"health"}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func get(t *testing.T, s *Server, path string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	r := httptest.NewRequest("GET", path, nil)
	if mutate != nil {
		mutate(r)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w.Result()
}

func TestBannerRoute(t *testing.T) {
	s := testServer(t, nil)
	res := get(t, s, "/", nil)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(res.Body).Decode(&body)
	if body["server"] != "nox" || body["status"] != "running" {
		t.Errorf("body = %v", body)
	}
}

func TestHandshakeRoute(t *testing.T) {
	s := testServer(t, nil)
	res := get(t, s, "/nox/handshake", nil)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if res.Header.Get("X-Server") != "NOX" {
		t.Errorf("X-Server = %q", res.Header.Get("X-Server"))
	}
	if res.Header.Get("X-Handshake") != "kick-nox-v1" {
		t.Errorf("X-Handshake = %q", res.Header.Get("X-Handshake"))
	}

	var body map[string]any
	json.NewDecoder(res.Body).Decode(&body)
	if body["handshake"] != "kick-nox-v1" || body["server"] != "nox" {
		t.Errorf("body = %v", body)
	}
	caps, _ := body["capabilities"].([]any)
	if len(caps) != 3 {
		t.Errorf("capabilities = %v", caps)
	}
}

func TestNotFoundErrorBody(t *testing.T) {
	s := testServer(t, nil)
	res := get(t, s, "/no/such/route", nil)

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Status != 404 || body.Error.Message == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRouteMissTakesResponsePath(t *testing.T) {
	s := testServer(t, nil)
	obs := &hookObserver{}
	if err := s.Plugins().Register(obs); err != nil {
		t.Fatal(err)
	}

	res := get(t, s, "/no/such/route", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}

	// A miss is an ordinary 404 response: post-route, post-handler, and
	// pre-response all see it, and the error hooks stay quiet.
	if obs.postRoute != 1 || obs.postHandler != 1 || obs.preResponse != 1 {
		t.Errorf("hooks = post_route:%d post_handler:%d pre_response:%d, want 1 each",
			obs.postRoute, obs.postHandler, obs.preResponse)
	}
	if obs.onError != 0 {
		t.Errorf("onError = %d, want 0", obs.onError)
	}
	if obs.status != http.StatusNotFound {
		t.Errorf("observed status = %d", obs.status)
	}
}

func TestHandlerDeclineTakesResponsePath(t *testing.T) {
	s := testServer(t, nil)
	s.Router().AddRoute(router.Get("/maybe"), handler.Func{
		HandlerName: "decline",
		Fn: func(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
			return handler.NotFound(), nil
		},
	})
	obs := &hookObserver{}
	if err := s.Plugins().Register(obs); err != nil {
		t.Fatal(err)
	}

	res := get(t, s, "/maybe", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if obs.postHandler != 1 || obs.onError != 0 {
		t.Errorf("hooks = post_handler:%d on_error:%d, want 1 and 0",
			obs.postHandler, obs.onError)
	}
}

type hookObserver struct {
	plugin.BasePlugin
	postRoute   int
	postHandler int
	preResponse int
	onError     int
	status      int
}

func (*hookObserver) Name() string        { return "observer" }
func (*hookObserver) Version() string     { return "0.0.1" }
func (*hookObserver) Description() string { return "counts hook invocations" }
func (*hookObserver) HandlesHook(h plugin.Hook) bool {
	switch h {
	case plugin.HookPostRoute, plugin.HookPostHandler, plugin.HookPreResponse, plugin.HookOnError:
		return true
	}
	return false
}
func (o *hookObserver) PostRoute(ctx *plugin.Context) plugin.Result {
	o.postRoute++
	return plugin.Continue()
}
func (o *hookObserver) PostHandler(ctx *plugin.Context) plugin.Result {
	o.postHandler++
	o.status = ctx.Status
	return plugin.Continue()
}
func (o *hookObserver) PreResponse(ctx *plugin.Context) plugin.Result {
	o.preResponse++
	return plugin.Continue()
}
func (o *hookObserver) OnError(ctx *plugin.Context, reqErr error) plugin.Result {
	o.onError++
	return plugin.Continue()
}

func TestHealthPluginServes(t *testing.T) {
	s := testServer(t, nil)
	res := get(t, s, "/health", nil)

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(data), `"status":"ok"`) {
		t.Errorf("body = %s", data)
	}
}

func TestMockPluginIntercepts(t *testing.T) {
	s := testServer(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = []string{"mock"}
		cfg.Mock = config.MockConfig{
			Scenarios: []config.MockScenario{{
				Name: "demo",
				Routes: []config.MockRoute{{
					Path:     "/api/demo/{id}",
					Method:   "GET",
					Response: config.MockResponse{Status: 200, Body: `{"id":"{{.params.id}}"}`, Template: true},
				}},
			}},
		}
	})

	res := get(t, s, "/api/demo/7", nil)
	// Mock answers at pre-handler even though no route exists.
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != `{"id":"7"}` {
		t.Errorf("body = %s", data)
	}
}

func TestAuthPluginProtectsRoutes(t *testing.T) {
	s := testServer(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = []string{"auth"}
		cfg.Auth = config.AuthConfig{
			Strategy: "basic",
			Users:    map[string]string{"alice": "pw"},
		}
	})

	s.Router().AddRoute(router.Get("/api/private"), handler.Func{
		HandlerName: "private",
		Fn: func(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
			return handler.Respond(&handler.Response{
				Status: 200,
				Body:   []byte("user:" + ctx.UserID),
			}), nil
		},
	})

	// No credentials
	res := get(t, s, "/api/private", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
	if res.Header.Get("WWW-Authenticate") == "" {
		t.Error("missing challenge")
	}

	// Valid credentials
	res = get(t, s, "/api/private", func(r *http.Request) {
		r.Header.Set("Authorization",
			"Basic "+base64.StdEncoding.EncodeToString([]byte("alice:pw")))
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != "user:alice" {
		t.Errorf("body = %s", data)
	}

	// Handshake stays public.
	res = get(t, s, "/nox/handshake", nil)
	if res.StatusCode != http.StatusOK {
		t.Errorf("handshake status = %d", res.StatusCode)
	}
}

func TestSessionPluginIssuesCookie(t *testing.T) {
	s := testServer(t, func(cfg *config.Config) {
		cfg.Plugins.Enabled = []string{"auth", "session"}
		cfg.Auth = config.AuthConfig{
			Strategy: "basic",
			Users:    map[string]string{"alice": "pw"},
		}
	})
	s.Router().AddRoute(router.Get("/api/me"), handler.JSON{Value: map[string]string{"ok": "true"}})

	res := get(t, s, "/api/me", func(r *http.Request) {
		r.Header.Set("Authorization",
			"Basic "+base64.StdEncoding.EncodeToString([]byte("alice:pw")))
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	cookie := res.Header.Get("Set-Cookie")
	if !strings.HasPrefix(cookie, "session_id=") {
		t.Fatalf("Set-Cookie = %q", cookie)
	}

	// Replaying the cookie resolves the same session without a new cookie.
	sid := strings.SplitN(strings.TrimPrefix(cookie, "session_id="), ";", 2)[0]
	res = get(t, s, "/api/me", func(r *http.Request) {
		r.Header.Set("Authorization",
			"Basic "+base64.StdEncoding.EncodeToString([]byte("alice:pw")))
		r.Header.Set("Cookie", "session_id="+sid)
	})
	if got := res.Header.Get("Set-Cookie"); got != "" {
		t.Errorf("second request issued a new cookie: %q", got)
	}
}

func TestHandlerErrorRendersTaxonomy(t *testing.T) {
	s := testServer(t, nil)
	s.Router().AddRoute(router.Get("/boom"), handler.Func{
		HandlerName: "boom",
		Fn: func(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
			return handler.Result{}, errors.ServiceUnavailable("backend is down")
		},
	})

	res := get(t, s, "/boom", nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(data), `"status":503`) {
		t.Errorf("body = %s", data)
	}
}

func TestOnErrorPluginSubstitutesResponse(t *testing.T) {
	s := testServer(t, nil)
	s.Router().AddRoute(router.Get("/boom"), handler.Func{
		HandlerName: "boom",
		Fn: func(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
			return handler.Result{}, errors.Internal("kaput")
		},
	})

	rescuer := &rescuePlugin{}
	if err := s.Plugins().Register(rescuer); err != nil {
		t.Fatal(err)
	}

	res := get(t, s, "/boom", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want substituted 200", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != "rescued" {
		t.Errorf("body = %s", data)
	}
}

type rescuePlugin struct {
	plugin.BasePlugin
}

func (*rescuePlugin) Name() string        { return "rescue" }
func (*rescuePlugin) Version() string     { return "0.0.1" }
func (*rescuePlugin) Description() string { return "substitutes error responses" }
func (*rescuePlugin) HandlesHook(h plugin.Hook) bool {
	return h == plugin.HookOnError
}
func (*rescuePlugin) OnError(ctx *plugin.Context, reqErr error) plugin.Result {
	return plugin.Respond(&plugin.Response{Status: 200, Body: []byte("rescued")})
}

func TestRouteParamsReachHandler(t *testing.T) {
	s := testServer(t, nil)
	s.Router().AddRoute(router.Get("/users/{id}"), handler.Func{
		HandlerName: "user",
		Fn: func(r *http.Request, ctx *plugin.Context) (handler.Result, error) {
			return handler.Respond(&handler.Response{
				Status: 200,
				Body:   []byte(ctx.Params["id"]),
			}), nil
		},
	})

	res := get(t, s, "/users/42", nil)
	data, _ := io.ReadAll(res.Body)
	if string(data) != "42" {
		t.Errorf("body = %s", data)
	}
}

func TestProxyCatchAllBehindExplicitRoutes(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from-upstream"))
	}))
	defer backend.Close()

	s := testServer(t, func(cfg *config.Config) {
		cfg.Proxy = config.ProxyConfig{
			Enabled:   true,
			Strategy:  "round_robin",
			Upstreams: []config.UpstreamConfig{{Name: "b1", URL: backend.URL}},
		}
	})

	// Explicit route wins over the catch-all.
	res := get(t, s, "/", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("banner status = %d", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if strings.Contains(string(data), "from-upstream") {
		t.Error("catch-all shadowed the banner route")
	}

	// Everything else proxies.
	res = get(t, s, "/anything/else", nil)
	data, _ = io.ReadAll(res.Body)
	if string(data) != "from-upstream" {
		t.Errorf("body = %s", data)
	}
}

func TestStaticFilesMount(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/app.js", "console.log(1)")

	s := testServer(t, func(cfg *config.Config) {
		cfg.StaticFiles = config.StaticFilesConfig{
			Enabled: true,
			RootDir: dir,
			Prefix:  "/assets",
		}
	})

	res := get(t, s, "/assets/app.js", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	data, _ := io.ReadAll(res.Body)
	if string(data) != "console.log(1)" {
		t.Errorf("body = %s", data)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
