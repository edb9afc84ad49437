package binding

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level binding configuration. The field layout matches the
// shape handed to the original client: subprocess servers under
// initial_servers, network servers under remote_servers.
type Config struct {
	InitialServers map[string]SubprocessServer `yaml:"initial_servers" json:"initial_servers"`
	RemoteServers  map[string]string           `yaml:"remote_servers" json:"remote_servers"`
}

// SubprocessServer describes a server spawned as a local child process.
// Command carries the executable and any leading arguments; Args are appended
// after it. Cwd is the working directory the process starts in, which matters
// for servers that load a .env beside their entry point.
type SubprocessServer struct {
	Command []string `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
	Cwd     string   `yaml:"cwd" json:"cwd"`
}

// LoadConfig reads a YAML file and returns a Config. Environment variables
// referenced as ${VAR} or $VAR are expanded before parsing, so command paths
// and base URLs can be kept out of the file. YAML being a superset of JSON,
// a JSON config file loads unchanged.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("binding: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("binding: parse config: %w", err)
	}

	return cfg, nil
}
