// Package toolserver exposes plain Go handlers as MCP tools using the
// official MCP Go SDK. The demo server binary and the binding's tests use it
// to stand up real backends the client can spawn or connect to.
package toolserver

import (
	"context"
	"encoding/json"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler executes a tool with the given JSON input and returns a text result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is one named tool with a JSON Schema for its input.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Server serves a set of tools over the MCP protocol.
type Server struct {
	server *mcp.Server
}

// New creates a Server with the given implementation name and version.
func New(name, version string) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	return &Server{server: server}
}

// Register adds tools to the server.
func (s *Server) Register(tools ...Tool) {
	for _, t := range tools {
		s.server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, sdkHandler(t.Handler))
	}
}

// Serve reads MCP requests from in and writes responses to out, blocking
// until ctx is cancelled or the transport closes. Server binaries pass stdin
// and stdout so the binding can drive them as subprocesses.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.Run(ctx, transport)
}

// Run starts the server on an arbitrary transport. Tests use it with
// in-memory transports.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// sdkHandler wraps a Handler as an SDK ToolHandler. Handler errors become
// tool-level error results rather than protocol failures.
func sdkHandler(h Handler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}

		result, err := h(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

// nopWriteCloser wraps an io.Writer as an io.WriteCloser with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
