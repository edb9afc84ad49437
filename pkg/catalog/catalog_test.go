package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/germanamz/mcpbind/pkg/eventloop"
	"github.com/germanamz/mcpbind/pkg/registry"
	"github.com/germanamz/mcpbind/pkg/toolserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()

	l := eventloop.New()
	t.Cleanup(func() { _ = l.Close(time.Second) })

	return l
}

func dialServer(t *testing.T, tools ...toolserver.Tool) registry.DialFunc {
	t.Helper()

	return func() (mcp.Transport, error) {
		s := toolserver.New("test-server", "1.0.0")
		s.Register(tools...)

		serverTransport, clientTransport := mcp.NewInMemoryTransports()

		ctx, cancel := context.WithCancel(context.Background())
		serverDone := make(chan error, 1)
		go func() {
			serverDone <- s.Run(ctx, serverTransport)
		}()
		t.Cleanup(func() {
			cancel()
			<-serverDone
		})

		return clientTransport, nil
	}
}

func namedTool(name, description string) toolserver.Tool {
	return toolserver.Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(_ context.Context, input json.RawMessage) (string, error) {
			return string(input), nil
		},
	}
}

func addServer(t *testing.T, reg *registry.Registry, alias string, dial registry.DialFunc) {
	t.Helper()

	require.NoError(t, reg.Register(&registry.Descriptor{
		Alias:   alias,
		Kind:    registry.TransportSubprocess,
		Command: []string{"x"},
		Dial:    dial,
	}))
}

func qualifiedNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.QualifiedName
	}
	return names
}

func TestQualifyAndSplitRoundTrip(t *testing.T) {
	qualified := Qualify("utils", "get_current_time")
	assert.Equal(t, "utils::get_current_time", qualified)

	alias, name, err := SplitName(qualified)
	require.NoError(t, err)
	assert.Equal(t, "utils", alias)
	assert.Equal(t, "get_current_time", name)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name      string
		qualified string
		wantAlias string
		wantTool  string
		wantErr   bool
	}{
		{name: "simple", qualified: "a::b", wantAlias: "a", wantTool: "b"},
		{name: "separator in tool name", qualified: "a::b::c", wantAlias: "a", wantTool: "b::c"},
		{name: "missing separator", qualified: "plainname", wantErr: true},
		{name: "empty", qualified: "", wantErr: true},
		{name: "single colon", qualified: "a:b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alias, tool, err := SplitName(tt.qualified)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToolName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlias, alias)
			assert.Equal(t, tt.wantTool, tool)
		})
	}
}

func TestDiscoverNamespacesIdenticalToolNames(t *testing.T) {
	loop := newTestLoop(t)
	reg := registry.New()
	addServer(t, reg, "alpha", dialServer(t, namedTool("search", "Search alpha")))
	addServer(t, reg, "beta", dialServer(t, namedTool("search", "Search beta")))

	tools := New(reg, loop, nil).Discover(false, time.Second, time.Second)

	assert.ElementsMatch(t, []string{"alpha::search", "beta::search"}, qualifiedNames(tools))
}

func TestDiscoverSkipsFailedServer(t *testing.T) {
	loop := newTestLoop(t)
	reg := registry.New()
	addServer(t, reg, "broken", func() (mcp.Transport, error) {
		return nil, errors.New("connect refused")
	})
	addServer(t, reg, "healthy", dialServer(t, namedTool("echo", "")))

	tools := New(reg, loop, nil).Discover(false, time.Second, time.Second)

	assert.Equal(t, []string{"healthy::echo"}, qualifiedNames(tools))
}

func TestDiscoverEmptyWhenNothingConnects(t *testing.T) {
	loop := newTestLoop(t)
	reg := registry.New()
	addServer(t, reg, "broken", func() (mcp.Transport, error) {
		return nil, errors.New("connect refused")
	})

	tools := New(reg, loop, nil).Discover(false, time.Second, time.Second)

	assert.Empty(t, tools)
}

func TestDiscoverCarriesDescriptionAndSchema(t *testing.T) {
	loop := newTestLoop(t)
	reg := registry.New()
	addServer(t, reg, "srv", dialServer(t,
		namedTool("documented", "Does something"),
		namedTool("undocumented", ""),
	))

	tools := New(reg, loop, nil).Discover(false, time.Second, time.Second)
	require.Len(t, tools, 2)

	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		byName[tool.QualifiedName] = tool
	}

	documented := byName["srv::documented"]
	assert.Equal(t, "Does something", documented.Description)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(documented.InputSchema, &schema))
	assert.Equal(t, "object", schema["type"])

	assert.Empty(t, byName["srv::undocumented"].Description)
}

func TestDiscoverUsesCacheUntilForced(t *testing.T) {
	loop := newTestLoop(t)
	reg := registry.New()

	var dials atomic.Int64
	dial := dialServer(t, namedTool("echo", ""))
	addServer(t, reg, "srv", func() (mcp.Transport, error) {
		dials.Add(1)
		return dial()
	})

	agg := New(reg, loop, nil)

	first := agg.Discover(false, time.Second, time.Second)
	require.Len(t, first, 1)

	// Cached: same catalog, no extra handshake or fetch.
	second := agg.Discover(false, time.Second, time.Second)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), dials.Load())

	// Forced refresh replaces the cache wholesale.
	third := agg.Discover(true, time.Second, time.Second)
	assert.Equal(t, first, third)
}

func TestToolsReturnsCachedCatalog(t *testing.T) {
	loop := newTestLoop(t)
	reg := registry.New()
	addServer(t, reg, "srv", dialServer(t, namedTool("echo", "")))

	agg := New(reg, loop, nil)
	assert.Empty(t, agg.Tools())

	agg.Discover(false, time.Second, time.Second)
	assert.Equal(t, []string{"srv::echo"}, qualifiedNames(agg.Tools()))
}

func TestDiscoverEmptyRegistry(t *testing.T) {
	loop := newTestLoop(t)

	tools := New(registry.New(), loop, nil).Discover(false, time.Second, time.Second)
	assert.Empty(t, tools)
}
