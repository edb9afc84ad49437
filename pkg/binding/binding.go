// Package binding is the composition root of the multi-server MCP client. A
// Binding manages a pool of independently-lifecycled tool servers, aggregates
// their catalogs under alias::tool namespacing, and dispatches calls to the
// right backend over a shared background loop.
package binding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/mcpbind/pkg/catalog"
	"github.com/germanamz/mcpbind/pkg/eventloop"
	"github.com/germanamz/mcpbind/pkg/registry"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// connectTimeoutCap bounds how long a dispatch spends establishing a
	// connection, regardless of the call's own timeout.
	connectTimeoutCap = 30 * time.Second

	defaultCallTimeout = 120 * time.Second
	listTimeout        = 30 * time.Second
	closeTimeout       = 10 * time.Second
)

// Binding is the aggregation client. Construct it with New, discover tools
// with DiscoverTools, call them with ExecuteTool, and release everything with
// Close. All methods are safe for concurrent use.
type Binding struct {
	log *slog.Logger
	reg *registry.Registry

	// mu guards loop, agg and closed. The loop is started lazily on the
	// first discovery or call.
	mu   sync.Mutex
	loop *eventloop.Loop
	agg  *catalog.Aggregator

	closed bool
}

// Option configures a Binding.
type Option func(*Binding)

// WithLogger sets the binding's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(b *Binding) { b.log = log }
}

// New builds a Binding from cfg. Malformed server entries are skipped with a
// warning rather than failing construction; a duplicate alias across the two
// config maps resolves to the remote definition. No connection is attempted
// until the first discovery or call.
func New(cfg Config, opts ...Option) *Binding {
	b := &Binding{reg: registry.New()}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}

	for _, alias := range sortedKeys(cfg.InitialServers) {
		sc := cfg.InitialServers[alias]
		b.register(&registry.Descriptor{
			Alias:   alias,
			Kind:    registry.TransportSubprocess,
			Command: sc.Command,
			Args:    sc.Args,
			Cwd:     sc.Cwd,
		})
	}

	for _, alias := range sortedKeys(cfg.RemoteServers) {
		if _, exists := b.reg.Get(alias); exists {
			b.log.Warn("binding: duplicate alias, remote definition wins", "alias", alias)
		}
		b.register(&registry.Descriptor{
			Alias:   alias,
			Kind:    registry.TransportNetwork,
			BaseURL: cfg.RemoteServers[alias],
		})
	}

	return b
}

// register adds one descriptor, downgrading validation failures to warnings.
func (b *Binding) register(d *registry.Descriptor) {
	if err := b.reg.Register(d); err != nil {
		b.log.Warn("binding: skipping server", "alias", d.Alias, "error", err)
	}
}

// DiscoverTools returns the aggregated, namespaced tool catalog. Servers that
// fail to connect or to list are skipped, so the result degrades to a smaller
// catalog rather than an error; it is empty when no server connects. The
// catalog is fetched once and cached until forceRefresh is set.
func (b *Binding) DiscoverTools(forceRefresh bool) []catalog.Tool {
	if len(b.reg.Aliases()) == 0 {
		return nil
	}

	_, agg, err := b.ensureLoop()
	if err != nil {
		return nil
	}

	return agg.Discover(forceRefresh, connectTimeoutCap, listTimeout)
}

// ExecuteTool runs one namespaced tool call end-to-end: resolve the alias,
// connect the backend if needed, invoke the tool on the loop, and normalize
// the response. The returned Result always has a status; no failure escapes
// as an error. A timeout <= 0 falls back to a generous default.
func (b *Binding) ExecuteTool(qualifiedName string, arguments map[string]any, timeout time.Duration) Result {
	log := b.log.With("call_id", uuid.NewString(), "tool", qualifiedName)

	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	alias, toolName, err := catalog.SplitName(qualifiedName)
	if err != nil {
		log.Warn("binding: rejected tool call", "error", err)
		return errorResult(err)
	}

	d, ok := b.reg.Get(alias)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownServer, alias)
		log.Warn("binding: rejected tool call", "error", err)
		return errorResult(err)
	}

	loop, _, err := b.ensureLoop()
	if err != nil {
		return errorResult(err)
	}

	session, err := d.EnsureConnected(loop, min(timeout, connectTimeoutCap))
	if err != nil {
		log.Warn("binding: connect failed", "alias", alias, "error", err)
		return errorResult(err)
	}

	res, err := loop.RunAndWait(func(ctx context.Context) (any, error) {
		return session.CallTool(ctx, &mcp.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		})
	}, timeout)
	if err != nil {
		log.Warn("binding: tool call failed", "error", err)
		return errorResult(err)
	}

	result := res.(*mcp.CallToolResult)
	text := joinText(result)

	if result.IsError {
		rerr := &RemoteToolError{Tool: qualifiedName, Message: text}
		log.Warn("binding: tool reported error", "message", text)
		return errorResult(rerr)
	}

	log.Debug("binding: tool call succeeded")

	return successResult(parseOutput(text))
}

// Close tears down every open session on the loop, then stops the loop.
// Idempotent, and a no-op on a binding that never connected.
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.loop == nil {
		return nil
	}

	var firstErr error
	for _, alias := range b.reg.Aliases() {
		d, ok := b.reg.Get(alias)
		if !ok {
			continue
		}
		if err := d.CloseSession(b.loop, closeTimeout); err != nil {
			b.log.Warn("binding: close session", "alias", alias, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := b.loop.Close(closeTimeout); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// ensureLoop lazily starts the background loop and the aggregator. Exactly one
// loop exists per binding.
func (b *Binding) ensureLoop() (*eventloop.Loop, *catalog.Aggregator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, errors.New("binding: closed")
	}

	if b.loop == nil {
		b.loop = eventloop.New()
		b.agg = catalog.New(b.reg, b.loop, b.log)
	}

	return b.loop, b.agg, nil
}

// joinText concatenates all textual content parts of a tool response.
func joinText(result *mcp.CallToolResult) string {
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return strings.Join(texts, "\n")
}

// parseOutput decodes text as JSON when possible, falling back to the raw
// text. Callers rely on receiving unstructured tool output verbatim.
func parseOutput(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}

	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
