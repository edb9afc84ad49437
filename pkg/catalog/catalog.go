// Package catalog aggregates the tool lists of every connected server into a
// single namespaced catalog. Each backend tool is renamed alias::tool so two
// servers exposing identically-named tools stay independently addressable.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/mcpbind/pkg/eventloop"
	"github.com/germanamz/mcpbind/pkg/registry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrInvalidToolName is returned when a qualified name has no namespace
// separator.
var ErrInvalidToolName = errors.New("catalog: tool name missing namespace separator")

// Tool is one entry of the aggregated catalog.
type Tool struct {
	QualifiedName string
	Description   string
	InputSchema   json.RawMessage
}

// Qualify builds the externally visible name for a backend tool.
func Qualify(alias, name string) string {
	return alias + registry.Separator + name
}

// SplitName splits a qualified name into its alias and backend tool name.
func SplitName(qualified string) (alias, name string, err error) {
	alias, name, ok := strings.Cut(qualified, registry.Separator)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidToolName, qualified)
	}

	return alias, name, nil
}

// Aggregator queries connected servers for their tools and maintains the
// merged catalog cache. A refresh replaces the cache wholesale; there is no
// per-tool merging.
type Aggregator struct {
	log  *slog.Logger
	reg  *registry.Registry
	loop *eventloop.Loop

	mu    sync.Mutex
	cache []Tool
}

// New creates an aggregator over the given registry and loop.
func New(reg *registry.Registry, loop *eventloop.Loop, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}

	return &Aggregator{log: log, reg: reg, loop: loop}
}

// Discover connects every registered server (failures are logged and skipped)
// and returns the aggregated catalog. The per-server tool lists are fetched in
// parallel on the loop when forceRefresh is set or the cache is empty;
// otherwise the cached catalog is returned. A server that fails to connect or
// to list contributes zero tools, never an error.
func (a *Aggregator) Discover(forceRefresh bool, connectTimeout, listTimeout time.Duration) []Tool {
	type backend struct {
		alias   string
		session *mcp.ClientSession
	}

	var connected []backend
	for _, alias := range a.reg.Aliases() {
		d, ok := a.reg.Get(alias)
		if !ok {
			continue
		}

		session, err := d.EnsureConnected(a.loop, connectTimeout)
		if err != nil {
			a.log.Warn("catalog: skipping server", "alias", alias, "error", err)
			continue
		}

		connected = append(connected, backend{alias: alias, session: session})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !forceRefresh && len(a.cache) > 0 {
		return append([]Tool(nil), a.cache...)
	}

	perServer := make([][]Tool, len(connected))

	var wg sync.WaitGroup
	for i, b := range connected {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tools, err := a.listServer(b.alias, b.session, listTimeout)
			if err != nil {
				a.log.Warn("catalog: list tools failed", "alias", b.alias, "error", err)
				return
			}
			perServer[i] = tools
		}()
	}
	wg.Wait()

	merged := make([]Tool, 0)
	for _, tools := range perServer {
		merged = append(merged, tools...)
	}
	a.cache = merged

	return append([]Tool(nil), a.cache...)
}

// Tools returns the cached catalog without touching any server.
func (a *Aggregator) Tools() []Tool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]Tool(nil), a.cache...)
}

// listServer fetches one server's tools on the loop and namespaces them.
func (a *Aggregator) listServer(alias string, session *mcp.ClientSession, timeout time.Duration) ([]Tool, error) {
	res, err := a.loop.RunAndWait(func(ctx context.Context) (any, error) {
		return session.ListTools(ctx, nil)
	}, timeout)
	if err != nil {
		return nil, err
	}

	list := res.(*mcp.ListToolsResult)
	tools := make([]Tool, 0, len(list.Tools))
	for _, t := range list.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			a.log.Warn("catalog: skipping tool with unencodable schema", "alias", alias, "tool", t.Name, "error", err)
			continue
		}

		tools = append(tools, Tool{
			QualifiedName: Qualify(alias, t.Name),
			Description:   t.Description,
			InputSchema:   schema,
		})
	}

	return tools, nil
}
