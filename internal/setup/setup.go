// Package setup registers the lite MCP server with a desktop MCP client and
// reports whether that registration still points at a usable install.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
)

// ServerName is the key the server is registered under
const ServerName = "pv-ae-server"

// BinaryName is the lite server executable
const BinaryName = "mcp-server-lite"

// DataDirEnv is the environment variable the lite server reads its data directory from
const DataDirEnv = "PV_DATA_DIR"

// ClientConfig is the MCP client configuration file. Unknown top-level keys
// are preserved on save.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`

	extra map[string]json.RawMessage
}

// ServerEntry launches one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options control registration.
type Options struct {
	ConfigPath string            // client config file; empty uses DefaultClientConfigPath
	BinaryPath string            // empty searches PATH and common install locations
	DataDir    string            // exported as PV_DATA_DIR when set
	Env        map[string]string // additional environment, e.g. PV_OLLAMA_URL
}

// Status describes the current registration.
type Status struct {
	ConfigPath string   `json:"config_path"`
	Registered bool     `json:"registered"`
	BinaryPath string   `json:"binary_path,omitempty"`
	DataDir    string   `json:"data_dir"`
	Env        []string `json:"env,omitempty"`
	Issues     []string `json:"issues"`
}

// DefaultClientConfigPath returns the desktop client's config file location.
func DefaultClientConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "Claude", "claude_desktop_config.json"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// DefaultDataDir mirrors the lite server's default data directory.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pv-ae-server")
}

// LoadClientConfig reads path; a missing file yields an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	config := &ClientConfig{MCPServers: map[string]ServerEntry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &config.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := config.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &config.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(config.extra, "mcpServers")
	}
	if config.MCPServers == nil {
		config.MCPServers = map[string]ServerEntry{}
	}
	return config, nil
}

// SaveClientConfig writes config to path, creating the directory.
func SaveClientConfig(path string, config *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(config.extra)+1)
	for k, v := range config.extra {
		out[k] = v
	}
	out["mcpServers"] = config.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry and returns the written entry.
func Register(opts Options) (*ServerEntry, error) {
	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	config, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = FindBinary(); err != nil {
			return nil, fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := ServerEntry{Command: binary, Env: map[string]string{}}
	for k, v := range opts.Env {
		entry.Env[k] = v
	}
	if opts.DataDir != "" {
		entry.Env[DataDirEnv] = opts.DataDir
	}
	if len(entry.Env) == 0 {
		entry.Env = nil
	}

	config.MCPServers[ServerName] = entry
	if err := SaveClientConfig(path, config); err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindBinary looks for the lite server in PATH and common install locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + BinaryName,
		"./build/" + BinaryName,
		filepath.Join(home, ".local", "bin", BinaryName),
		"/usr/local/bin/" + BinaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary %q not found in common locations", BinaryName)
}

// GetStatus inspects the registration in the client config at configPath.
func GetStatus(configPath string) (*Status, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: path, Issues: []string{}}

	config, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}

	entry, ok := config.MCPServers[ServerName]
	if !ok {
		status.DataDir = DefaultDataDir()
		status.Issues = append(status.Issues, "Server not registered with the MCP client")
		return status, nil
	}

	status.Registered = true
	status.BinaryPath = entry.Command
	status.DataDir = entry.Env[DataDirEnv]
	if status.DataDir == "" {
		status.DataDir = DefaultDataDir()
	}
	for k := range entry.Env {
		status.Env = append(status.Env, k)
	}
	sort.Strings(status.Env)

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found: %s", entry.Command))
	case runtime.GOOS != "windows" && info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary is not executable: %s", entry.Command))
	}
	return status, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultClientConfigPath()
}
