// Command mcpbind-demo drives the binding against a utils-server subprocess:
// it discovers the aggregated catalog, calls a couple of tools by their
// qualified names, and prints the normalized results.
//
// By default it spawns "utils-server" from PATH (go install ./cmd/utils-server
// first); pass a YAML or JSON config file as the only argument to talk to
// your own servers instead.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/germanamz/mcpbind/pkg/binding"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err == nil {
		color.Cyan("Loaded environment from .env")
	}

	cfg := binding.Config{
		InitialServers: map[string]binding.SubprocessServer{
			"utils": {Command: []string{"utils-server"}},
		},
	}
	if len(os.Args) > 1 {
		var err error
		cfg, err = binding.LoadConfig(os.Args[1])
		if err != nil {
			return err
		}
		color.Cyan("Loaded config from %s", os.Args[1])
	}

	b := binding.New(cfg)
	defer func() {
		if err := b.Close(); err != nil {
			color.Yellow("close: %v", err)
		}
	}()

	color.Magenta("1. Discovering tools...")
	tools := b.DiscoverTools(false)
	if len(tools) == 0 {
		return fmt.Errorf("no tools discovered; is utils-server on PATH?")
	}
	for _, t := range tools {
		color.Yellow("  %s", t.QualifiedName)
		if t.Description != "" {
			color.Cyan("    %s", t.Description)
		}
	}

	color.Magenta("2. Calling tools...")
	for _, call := range []struct {
		name string
		args map[string]any
	}{
		{"utils::hello", nil},
		{"utils::get_current_time", nil},
		{"utils::echo", map[string]any{"x": 1, "msg": "round trip"}},
	} {
		result := b.ExecuteTool(call.name, call.args, 30*time.Second)
		pretty, err := json.MarshalIndent(result, "  ", "  ")
		if err != nil {
			return err
		}
		color.Yellow("  %s ->", call.name)
		if result.Status == binding.StatusSuccess {
			color.Green("  %s", pretty)
		} else {
			color.Red("  %s", pretty)
		}
	}

	color.Magenta("3. Closing...")

	return nil
}
