// Package config loads the node's runtime configuration from environment
// variables (optionally via a .env file) and an optional YAML overlay,
// with ${VAR}/${VAR:default} substitution in the overlay's string values.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sage-x-project/compute-node/registry/nodes"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} occurrences in input
// with the named environment variable's value, falling back to the
// provided default.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Config is the node's complete runtime configuration.
type Config struct {
	SecretKeyHex           string            `yaml:"secret_key"`
	AdminPublicKey         string            `yaml:"admin_public_key"`
	NetworkType            nodes.NetworkType `yaml:"network_type"`
	ListenAddr             string            `yaml:"listen_addr"`
	Models                 []string          `yaml:"models"`
	OllamaHost             string            `yaml:"ollama_host"`
	OllamaPort             int               `yaml:"ollama_port"`
	BootstrapPeers         []string          `yaml:"bootstrap_peers"`
	RelayPeers             []string          `yaml:"relay_peers"`
	RPCPeers               []string          `yaml:"rpc_peers"`
	MetricsAddr            string            `yaml:"metrics_addr"`
	HealthAddr             string            `yaml:"health_addr"`
	RemoteExecutorEndpoint string            `yaml:"remote_executor_endpoint"`
}

// Validate checks the fields required before the node can start.
func (c *Config) Validate() error {
	if c.SecretKeyHex == "" {
		return fmt.Errorf("secret_key is required")
	}
	if c.AdminPublicKey == "" {
		return fmt.Errorf("admin_public_key is required")
	}
	switch c.NetworkType {
	case nodes.NetworkMainnet, nodes.NetworkTestnet, nodes.NetworkDev:
	default:
		return fmt.Errorf("network_type must be one of mainnet, testnet, dev; got %q", c.NetworkType)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	return nil
}

// Options controls how Load assembles a Config.
type Options struct {
	// DotEnvPath, if non-empty, is loaded into the process environment
	// before reading variables. Missing files are not an error.
	DotEnvPath string
	// YAMLPath, if non-empty, is read as a YAML overlay applied after
	// environment values. After the merge, ${VAR} substitution is applied
	// to the scalar string fields, whether they came from the file or the
	// environment; list fields are not substituted.
	YAMLPath string
}

// Load assembles a Config from the process environment, an optional .env
// file, and an optional YAML overlay.
func Load(opts Options) (*Config, error) {
	if opts.DotEnvPath != "" {
		if err := godotenv.Load(opts.DotEnvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg := &Config{
		SecretKeyHex:           os.Getenv("SECRET_KEY"),
		AdminPublicKey:         os.Getenv("ADMIN_PUBLIC_KEY"),
		NetworkType:            nodes.NetworkType(os.Getenv("NETWORK_TYPE")),
		ListenAddr:             os.Getenv("LISTEN_ADDR"),
		OllamaHost:             envOrDefault("OLLAMA_HOST", "127.0.0.1"),
		MetricsAddr:            envOrDefault("METRICS_ADDR", ":9090"),
		HealthAddr:             envOrDefault("HEALTH_ADDR", ":8090"),
		RemoteExecutorEndpoint: os.Getenv("REMOTE_EXECUTOR_ENDPOINT"),
	}

	if models := os.Getenv("MODELS"); models != "" {
		cfg.Models = splitCommaList(models)
	}
	if port := os.Getenv("OLLAMA_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("parse OLLAMA_PORT: %w", err)
		}
		cfg.OllamaPort = p
	} else {
		cfg.OllamaPort = 11434
	}

	cfg.BootstrapPeers = splitCommaList(os.Getenv("BOOTSTRAP_PEERS"))
	cfg.RelayPeers = splitCommaList(os.Getenv("RELAY_PEERS"))
	cfg.RPCPeers = splitCommaList(os.Getenv("RPC_PEERS"))

	if opts.YAMLPath != "" {
		if err := applyYAMLOverlay(cfg, opts.YAMLPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read YAML config %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse YAML config %s: %w", path, err)
	}

	mergeNonEmpty(cfg, &overlay)
	substituteConfigStrings(cfg)
	return nil
}

func mergeNonEmpty(dst, src *Config) {
	if src.SecretKeyHex != "" {
		dst.SecretKeyHex = src.SecretKeyHex
	}
	if src.AdminPublicKey != "" {
		dst.AdminPublicKey = src.AdminPublicKey
	}
	if src.NetworkType != "" {
		dst.NetworkType = src.NetworkType
	}
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if len(src.Models) > 0 {
		dst.Models = src.Models
	}
	if src.OllamaHost != "" {
		dst.OllamaHost = src.OllamaHost
	}
	if src.OllamaPort != 0 {
		dst.OllamaPort = src.OllamaPort
	}
	if len(src.BootstrapPeers) > 0 {
		dst.BootstrapPeers = src.BootstrapPeers
	}
	if len(src.RelayPeers) > 0 {
		dst.RelayPeers = src.RelayPeers
	}
	if len(src.RPCPeers) > 0 {
		dst.RPCPeers = src.RPCPeers
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.HealthAddr != "" {
		dst.HealthAddr = src.HealthAddr
	}
	if src.RemoteExecutorEndpoint != "" {
		dst.RemoteExecutorEndpoint = src.RemoteExecutorEndpoint
	}
}

func substituteConfigStrings(cfg *Config) {
	cfg.SecretKeyHex = SubstituteEnvVars(cfg.SecretKeyHex)
	cfg.AdminPublicKey = SubstituteEnvVars(cfg.AdminPublicKey)
	cfg.ListenAddr = SubstituteEnvVars(cfg.ListenAddr)
	cfg.OllamaHost = SubstituteEnvVars(cfg.OllamaHost)
	cfg.MetricsAddr = SubstituteEnvVars(cfg.MetricsAddr)
	cfg.HealthAddr = SubstituteEnvVars(cfg.HealthAddr)
	cfg.RemoteExecutorEndpoint = SubstituteEnvVars(cfg.RemoteExecutorEndpoint)
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
