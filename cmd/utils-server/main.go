// Command utils-server is a small MCP tool server spoken over stdio. It
// exposes a handful of self-contained utility tools (hello, echo,
// get_current_time) so the binding has a real subprocess backend to spawn in
// examples and smoke tests.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/germanamz/mcpbind/pkg/toolserver"
	"github.com/joho/godotenv"
)

func main() {
	// Logs go to stderr; stdout is the MCP transport.
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := godotenv.Load(); err == nil {
		log.Info("loaded .env")
	}

	s := toolserver.New("utils-server", "0.1.0")
	s.Register(
		toolserver.Tool{
			Name:        "hello",
			Description: "An example tool that returns hello",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler: func(context.Context, json.RawMessage) (string, error) {
				return `{"status":"success","answer":"Hello"}`, nil
			},
		},
		toolserver.Tool{
			Name:        "echo",
			Description: "Returns its input arguments verbatim",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler: func(_ context.Context, input json.RawMessage) (string, error) {
				return string(input), nil
			},
		},
		toolserver.Tool{
			Name:        "get_current_time",
			Description: "Gets the current time in UTC, in both ISO format and a human-readable string.",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler: func(context.Context, json.RawMessage) (string, error) {
				now := time.Now().UTC()
				out, err := json.Marshal(map[string]any{
					"status":        "success",
					"timezone":      "UTC",
					"iso_format":    now.Format(time.RFC3339),
					"pretty_format": now.Format("2006-01-02 15:04:05 MST"),
				})
				if err != nil {
					return "", fmt.Errorf("encode time: %w", err)
				}
				return string(out), nil
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving MCP over stdio")
	if err := s.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Error("serve failed", "error", err)
		os.Exit(1)
	}
}
