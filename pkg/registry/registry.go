// Package registry holds the per-alias server descriptors of a binding and
// manages their connection lifecycle. A Descriptor owns at most one live MCP
// session; its mutex serializes connection attempts so concurrent callers
// trigger a single handshake.
package registry

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportKind selects how a server is reached.
type TransportKind int

const (
	// TransportSubprocess spawns the server as a local child process and
	// speaks MCP over its stdio pipes.
	TransportSubprocess TransportKind = iota
	// TransportNetwork reaches the server over a persistent HTTP stream.
	TransportNetwork
)

func (k TransportKind) String() string {
	switch k {
	case TransportSubprocess:
		return "subprocess"
	case TransportNetwork:
		return "network"
	default:
		return fmt.Sprintf("TransportKind(%d)", int(k))
	}
}

// State is a descriptor's connection lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DialFunc builds a fresh transport for one connection attempt. Descriptors
// normally derive a transport from their own parameters; tests and callers
// with custom transports set Dial instead.
type DialFunc func() (mcp.Transport, error)

// Descriptor is one configured backend server. The connection fields are set
// at registration time and read-only afterwards; the session fields are
// guarded by mu.
type Descriptor struct {
	Alias string
	Kind  TransportKind

	// Subprocess parameters.
	Command []string
	Args    []string
	Cwd     string

	// Network parameters.
	BaseURL string

	// Dial overrides transport construction when non-nil.
	Dial DialFunc

	mu      sync.Mutex
	state   State
	session *mcp.ClientSession
}

// State returns the descriptor's current lifecycle state.
func (d *Descriptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// validate checks the descriptor's connection parameters.
func (d *Descriptor) validate() error {
	if d.Alias == "" {
		return fmt.Errorf("registry: server alias is required")
	}
	if strings.Contains(d.Alias, Separator) {
		return fmt.Errorf("registry: alias %q must not contain %q", d.Alias, Separator)
	}

	switch d.Kind {
	case TransportSubprocess:
		if len(d.Command) == 0 || d.Command[0] == "" {
			return fmt.Errorf("registry: server %q: command is required", d.Alias)
		}
	case TransportNetwork:
		u, err := url.Parse(d.BaseURL)
		if err != nil {
			return fmt.Errorf("registry: server %q: parse base url: %w", d.Alias, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("registry: server %q: base url %q must be http or https", d.Alias, d.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("registry: server %q: base url %q has no host", d.Alias, d.BaseURL)
		}
	default:
		return fmt.Errorf("registry: server %q: unknown transport kind %d", d.Alias, int(d.Kind))
	}

	return nil
}

// Registry holds descriptors keyed by alias. Registration happens while a
// binding is being assembled; afterwards the registry is read-mostly.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	servers map[string]*Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{servers: make(map[string]*Descriptor)}
}

// Register validates d and adds it to the registry. Registering an alias that
// already exists replaces the previous descriptor: last registration wins.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[d.Alias]; !exists {
		r.order = append(r.order, d.Alias)
	}
	r.servers[d.Alias] = d

	return nil
}

// Get returns the descriptor for alias, if registered.
func (r *Registry) Get(alias string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.servers[alias]
	return d, ok
}

// Aliases returns all registered aliases in registration order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
