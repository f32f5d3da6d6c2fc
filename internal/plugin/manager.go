package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/noxd/nox/internal/logging"
)

// responseAllowed marks the hooks where a plugin Respond result may still
// replace the outcome of the request. On the remaining hooks a response
// either already exists or has already been sent, so Respond degrades to
// Continue there.
var responseAllowed = map[Hook]bool{
	HookPreRequest: true,
	HookPostRoute:  true,
	HookPreHandler: true,
	HookOnError:    true,
}

// registration pairs a plugin with its registration sequence number, used
// to keep ties stable when priorities are equal.
type registration struct {
	plugin Plugin
	seq    int
}

// Manager owns the registered plugins and dispatches lifecycle hooks.
type Manager struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	disabled map[string]bool
	byHook   map[Hook][]registration
	nextSeq  int
}

// NewManager creates an empty plugin manager.
func NewManager() *Manager {
	return &Manager{
		plugins:  make(map[string]Plugin),
		disabled: make(map[string]bool),
		byHook:   make(map[Hook][]registration),
	}
}

// Register adds a plugin. Duplicate names are rejected.
func (m *Manager) Register(p Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("plugin %q is already registered", name)
	}
	m.plugins[name] = p

	reg := registration{plugin: p, seq: m.nextSeq}
	m.nextSeq++

	for _, h := range AllHooks {
		if !p.HandlesHook(h) {
			continue
		}
		list := append(m.byHook[h], reg)
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].plugin.Priority() != list[j].plugin.Priority() {
				return list[i].plugin.Priority() < list[j].plugin.Priority()
			}
			return list[i].seq < list[j].seq
		})
		m.byHook[h] = list
	}

	logging.Debug("plugin registered",
		zap.String("plugin", name),
		zap.String("version", p.Version()),
		zap.Int("priority", p.Priority()))

	return nil
}

// SetEnabled toggles a plugin at runtime without unregistering it.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; !exists {
		return fmt.Errorf("plugin %q is not registered", name)
	}
	if enabled {
		delete(m.disabled, name)
	} else {
		m.disabled[name] = true
	}
	return nil
}

// Enabled reports whether a registered plugin is currently enabled.
func (m *Manager) Enabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.plugins[name]
	return exists && !m.disabled[name]
}

// Get returns a registered plugin by name.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	return p, ok
}

// Info is a listing row for a registered plugin.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// List returns metadata for every registered plugin, sorted by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.plugins))
	for name, p := range m.plugins {
		infos = append(infos, Info{
			Name:        name,
			Version:     p.Version(),
			Description: p.Description(),
			Priority:    p.Priority(),
			Enabled:     !m.disabled[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// pluginsFor snapshots the enabled plugins for a hook in execution order.
func (m *Manager) pluginsFor(h Hook) []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regs := m.byHook[h]
	out := make([]Plugin, 0, len(regs))
	for _, reg := range regs {
		if m.disabled[reg.plugin.Name()] {
			continue
		}
		out = append(out, reg.plugin)
	}
	return out
}

// Dispatch runs every enabled plugin registered for the hook, in priority
// order. It returns a non-nil response if a plugin short-circuited on a
// hook that allows it, or an error if a plugin aborted the request. A
// Stop result ends this hook's chain only.
func (m *Manager) Dispatch(h Hook, ctx *Context) (*Response, error) {
	ctx.Hook = h

	for _, p := range m.pluginsFor(h) {
		res := m.invoke(p, h, ctx, nil)
		switch res.Action {
		case ActionContinue:
		case ActionStop:
			return nil, nil
		case ActionError:
			if res.Err != nil {
				return nil, res.Err
			}
			return nil, fmt.Errorf("plugin %s aborted request", p.Name())
		case ActionRespond:
			if responseAllowed[h] && res.Response != nil {
				return res.Response, nil
			}
			// Response not honored on this hook; treat as continue.
		}
	}
	return nil, nil
}

// DispatchError runs the OnError chain for a failed request. A plugin may
// substitute a response for the error.
func (m *Manager) DispatchError(ctx *Context, reqErr error) (*Response, error) {
	ctx.Hook = HookOnError

	for _, p := range m.pluginsFor(HookOnError) {
		res := m.invoke(p, HookOnError, ctx, reqErr)
		switch res.Action {
		case ActionContinue:
		case ActionStop:
			return nil, nil
		case ActionError:
			if res.Err != nil {
				return nil, res.Err
			}
			return nil, reqErr
		case ActionRespond:
			if res.Response != nil {
				return res.Response, nil
			}
		}
	}
	return nil, nil
}

func (m *Manager) invoke(p Plugin, h Hook, ctx *Context, reqErr error) Result {
	switch h {
	case HookOnStartup:
		return p.OnStartup(ctx)
	case HookOnShutdown:
		return p.OnShutdown(ctx)
	case HookPreRequest:
		return p.PreRequest(ctx)
	case HookPostRoute:
		return p.PostRoute(ctx)
	case HookPreHandler:
		return p.PreHandler(ctx)
	case HookPostHandler:
		return p.PostHandler(ctx)
	case HookPreResponse:
		return p.PreResponse(ctx)
	case HookPostResponse:
		return p.PostResponse(ctx)
	case HookOnError:
		return p.OnError(ctx, reqErr)
	default:
		return Continue()
	}
}
