package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/noxd/nox/internal/handler"
)

// Route describes a method+path pattern bound to a handler.
type Route struct {
	Method    string // empty = any method
	Path      string
	PathRegex string // optional explicit pattern, overrides {param} compilation
	Priority  int
}

// NewRoute creates a route for a specific method.
func NewRoute(method, path string) Route {
	return Route{Method: strings.ToUpper(method), Path: path, Priority: 100}
}

// Get creates a GET route.
func Get(path string) Route { return NewRoute("GET", path) }

// Post creates a POST route.
func Post(path string) Route { return NewRoute("POST", path) }

// Put creates a PUT route.
func Put(path string) Route { return NewRoute("PUT", path) }

// Delete creates a DELETE route.
func Delete(path string) Route { return NewRoute("DELETE", path) }

// Patch creates a PATCH route.
func Patch(path string) Route { return NewRoute("PATCH", path) }

// Any creates a route matching every method.
func Any(path string) Route { return Route{Path: path, Priority: 100} }

// WithPriority returns a copy of the route with the given priority.
// Lower values win when multiple routes match the same path.
func (r Route) WithPriority(priority int) Route {
	r.Priority = priority
	return r
}

// WithRegex returns a copy of the route with an explicit path pattern.
func (r Route) WithRegex(pattern string) Route {
	r.PathRegex = pattern
	return r
}

// Match is the result of resolving a request to a route.
type Match struct {
	Route   Route
	Handler handler.Handler
	Params  map[string]string
}

// entry is a registered route with its compiled matcher.
type entry struct {
	route   Route
	handler handler.Handler
	regex   *regexp.Regexp // nil = exact string comparison
}

// Router resolves method+path to a handler with extracted path parameters.
// The table is sorted ascending by priority; ties keep registration order.
type Router struct {
	mu      sync.RWMutex
	entries []*entry
}

// New creates an empty router.
func New() *Router {
	return &Router{}
}

// paramSegment matches an escaped {name} placeholder inside a quoted pattern.
var paramSegment = regexp.MustCompile(`\\\{([^{}]*)\\\}`)

// validParamName restricts parameter names to what regexp group names allow.
var validParamName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// AddRoute registers a route. Compilation errors (malformed parameter
// syntax, invalid explicit pattern) are returned synchronously and leave
// the table unchanged.
func (rt *Router) AddRoute(route Route, h handler.Handler) error {
	var re *regexp.Regexp
	switch {
	case route.PathRegex != "":
		compiled, err := regexp.Compile(route.PathRegex)
		if err != nil {
			return fmt.Errorf("invalid route pattern %q: %w", route.PathRegex, err)
		}
		re = compiled
	case strings.ContainsAny(route.Path, "{}"):
		compiled, err := pathToRegex(route.Path)
		if err != nil {
			return err
		}
		re = compiled
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.entries = append(rt.entries, &entry{
		route:   route,
		handler: h,
		regex:   re,
	})

	// Stable sort keeps registration order for equal priorities.
	sort.SliceStable(rt.entries, func(i, j int) bool {
		return rt.entries[i].route.Priority < rt.entries[j].route.Priority
	})

	return nil
}

// FindRoute walks the priority-sorted table and returns the first route
// whose method and path match, or nil.
func (rt *Router) FindRoute(method, path string) *Match {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	method = strings.ToUpper(method)

	for _, e := range rt.entries {
		if e.route.Method != "" && e.route.Method != method {
			continue
		}

		if e.regex != nil {
			captures := e.regex.FindStringSubmatch(path)
			if captures == nil {
				continue
			}
			params := make(map[string]string)
			for i, name := range e.regex.SubexpNames() {
				if i > 0 && name != "" && i < len(captures) {
					params[name] = captures[i]
				}
			}
			return &Match{Route: e.route, Handler: e.handler, Params: params}
		}

		if e.route.Path == path {
			return &Match{Route: e.route, Handler: e.handler, Params: map[string]string{}}
		}
	}

	return nil
}

// Routes returns (path, method, priority) for every registered route, in
// match order.
func (rt *Router) Routes() []RouteInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	infos := make([]RouteInfo, 0, len(rt.entries))
	for _, e := range rt.entries {
		infos = append(infos, RouteInfo{
			Path:     e.route.Path,
			Method:   e.route.Method,
			Priority: e.route.Priority,
			Handler:  e.handler.Name(),
		})
	}
	return infos
}

// Clear removes all routes.
func (rt *Router) Clear() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.entries = nil
}

// RouteInfo is a listing row for a registered route.
type RouteInfo struct {
	Path     string `json:"path"`
	Method   string `json:"method,omitempty"`
	Priority int    `json:"priority"`
	Handler  string `json:"handler"`
}

// CompilePattern compiles a {param} path pattern into an anchored regex
// with one named capture per parameter. Paths without parameters compile
// to an exact match.
func CompilePattern(path string) (*regexp.Regexp, error) {
	return pathToRegex(path)
}

// pathToRegex compiles a {param} path pattern into an anchored regex with
// one named capture per parameter.
func pathToRegex(path string) (*regexp.Regexp, error) {
	// QuoteMeta escapes both { and }, so placeholders arrive as \{name\}.
	quoted := regexp.QuoteMeta(path)

	var bad error
	pattern := paramSegment.ReplaceAllStringFunc(quoted, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, `\{`), `\}`)
		if !validParamName.MatchString(name) {
			bad = fmt.Errorf("invalid path parameter %q in route %q", name, path)
			return m
		}
		return `(?P<` + name + `>[^/]+)`
	})
	if bad != nil {
		return nil, bad
	}

	if strings.ContainsAny(pattern, "{}") {
		return nil, fmt.Errorf("unbalanced braces in route %q", path)
	}

	return regexp.Compile("^" + pattern + "$")
}
