package plugin

import (
	"net/http"
)

// Hook identifies a point in the request lifecycle where plugins run.
type Hook int

const (
	// HookOnStartup runs once when the server starts, before listening.
	HookOnStartup Hook = iota
	// HookOnShutdown runs once during graceful shutdown.
	HookOnShutdown
	// HookPreRequest runs when a request arrives, before routing.
	HookPreRequest
	// HookPostRoute runs after a route has been resolved.
	HookPostRoute
	// HookPreHandler runs just before the route handler.
	HookPreHandler
	// HookPostHandler runs after the handler produced a response.
	HookPostHandler
	// HookPreResponse runs before the response is written to the client.
	HookPreResponse
	// HookPostResponse runs after the response has been sent.
	HookPostResponse
	// HookOnError runs when a request fails with an error.
	HookOnError
)

// String returns the hook name.
func (h Hook) String() string {
	switch h {
	case HookOnStartup:
		return "on_startup"
	case HookOnShutdown:
		return "on_shutdown"
	case HookPreRequest:
		return "pre_request"
	case HookPostRoute:
		return "post_route"
	case HookPreHandler:
		return "pre_handler"
	case HookPostHandler:
		return "post_handler"
	case HookPreResponse:
		return "pre_response"
	case HookPostResponse:
		return "post_response"
	case HookOnError:
		return "on_error"
	default:
		return "unknown"
	}
}

// AllHooks lists every hook in lifecycle order.
var AllHooks = []Hook{
	HookOnStartup, HookOnShutdown,
	HookPreRequest, HookPostRoute, HookPreHandler,
	HookPostHandler, HookPreResponse, HookPostResponse,
	HookOnError,
}

// Context carries per-request state through the plugin pipeline. One
// Context is created per request and handed to every hook in turn, so
// plugins can communicate via Metadata.
type Context struct {
	Hook      Hook
	Method    string
	Path      string
	Query     map[string]string
	Headers   http.Header
	Params    map[string]string // route parameters, set after routing
	Metadata  map[string]string // scratch space shared across plugins
	SessionID string
	UserID    string
	Status    int // response status, set after the handler ran
}

// NewContext builds a request context from an incoming request.
func NewContext(r *http.Request) *Context {
	query := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	return &Context{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    query,
		Headers:  r.Header.Clone(),
		Params:   map[string]string{},
		Metadata: map[string]string{},
	}
}

// Response is a plugin-produced HTTP response that short-circuits the
// rest of the pipeline.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Action tells the dispatcher what to do after a plugin callback.
type Action int

const (
	// ActionContinue proceeds to the next plugin.
	ActionContinue Action = iota
	// ActionStop skips the remaining plugins for this hook only.
	ActionStop
	// ActionError aborts the request with an error.
	ActionError
	// ActionRespond short-circuits with a plugin-supplied response.
	// Only honored on hooks that can still change the outcome.
	ActionRespond
)

// Result is what a plugin callback returns to the dispatcher.
type Result struct {
	Action   Action
	Err      error
	Response *Response
}

// Continue proceeds to the next plugin.
func Continue() Result { return Result{Action: ActionContinue} }

// Stop ends the current hook's chain without failing the request.
func Stop() Result { return Result{Action: ActionStop} }

// Fail aborts the request with the given error.
func Fail(err error) Result { return Result{Action: ActionError, Err: err} }

// Respond short-circuits the request with the given response.
func Respond(resp *Response) Result { return Result{Action: ActionRespond, Response: resp} }

// Plugin is the interface all plugins implement. Embed BasePlugin to get
// no-op defaults for the callbacks you don't handle.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	// Priority orders plugins within a hook; lower runs first.
	Priority() int
	// HandlesHook reports whether the plugin wants the given hook.
	HandlesHook(h Hook) bool
	// Initialize receives the plugin's config section as raw YAML.
	Initialize(config []byte) error

	OnStartup(ctx *Context) Result
	OnShutdown(ctx *Context) Result
	PreRequest(ctx *Context) Result
	PostRoute(ctx *Context) Result
	PreHandler(ctx *Context) Result
	PostHandler(ctx *Context) Result
	PreResponse(ctx *Context) Result
	PostResponse(ctx *Context) Result
	OnError(ctx *Context, reqErr error) Result
}

// BasePlugin provides no-op defaults for every callback.
type BasePlugin struct{}

func (BasePlugin) Priority() int                  { return 100 }
func (BasePlugin) Initialize(config []byte) error { return nil }

func (BasePlugin) OnStartup(ctx *Context) Result             { return Continue() }
func (BasePlugin) OnShutdown(ctx *Context) Result            { return Continue() }
func (BasePlugin) PreRequest(ctx *Context) Result            { return Continue() }
func (BasePlugin) PostRoute(ctx *Context) Result             { return Continue() }
func (BasePlugin) PreHandler(ctx *Context) Result            { return Continue() }
func (BasePlugin) PostHandler(ctx *Context) Result           { return Continue() }
func (BasePlugin) PreResponse(ctx *Context) Result           { return Continue() }
func (BasePlugin) PostResponse(ctx *Context) Result          { return Continue() }
func (BasePlugin) OnError(ctx *Context, reqErr error) Result { return Continue() }
