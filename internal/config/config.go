package config

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load
const (
	EnvConfigPath  = "MCPBRIDGE_CONFIG"
	EnvLLMProvider = "MCPBRIDGE_LLM_PROVIDER"
	EnvLLMModel    = "MCPBRIDGE_LLM_MODEL"
	EnvMCPServer   = "MCPBRIDGE_MCP_SERVER"
	EnvLogLevel    = "MCPBRIDGE_LOG_LEVEL"
)

const defaultSystemPrompt = "You are a helpful assistant. Use the available tools when they help answer the user's request, then answer in plain language."

// Config represents the mcpbridge configuration
type Config struct {
	LLM     LLMConfig     `yaml:"llm" toml:"llm"`
	MCP     MCPConfig     `yaml:"mcp" toml:"mcp"`
	Agent   AgentConfig   `yaml:"agent" toml:"agent"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
}

// LLMConfig configures the model providers
type LLMConfig struct {
	Current   string                 `yaml:"current" toml:"current" validate:"required"`
	Available map[string]ModelConfig `yaml:"available" toml:"available" validate:"required,min=1,dive"`
	MaxTokens int                    `yaml:"max_tokens" toml:"max_tokens" validate:"gte=0"`
}

// ModelConfig names one provider/model pair
type ModelConfig struct {
	Provider string `yaml:"provider" toml:"provider" validate:"required,oneof=azure openai claude gemini"`
	// Model is the deployment name for azure
	Model string `yaml:"model" toml:"model"`
}

// CurrentModel returns the model config selected by Current
func (l LLMConfig) CurrentModel() (ModelConfig, error) {
	mc, ok := l.Available[l.Current]
	if !ok {
		return ModelConfig{}, errors.Newf("current model %q not found in llm.available (have: %s)",
			l.Current, strings.Join(l.ModelNames(), ", "))
	}
	return mc, nil
}

// ModelNames returns the configured model names in sorted order
func (l LLMConfig) ModelNames() []string {
	names := make([]string, 0, len(l.Available))
	for name := range l.Available {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MCPConfig configures the tool-execution servers. Only Current is connected.
type MCPConfig struct {
	Current string                     `yaml:"current" toml:"current" validate:"required"`
	Servers map[string]MCPServerConfig `yaml:"servers" toml:"servers" validate:"required,min=1,dive"`
}

// MCPServerConfig describes how to reach one MCP server: a subprocess
// speaking stdio, or a URL speaking SSE or streamable HTTP.
type MCPServerConfig struct {
	Command   string            `yaml:"command,omitempty" toml:"command,omitempty" validate:"required_without=URL"`
	Args      []string          `yaml:"args,omitempty" toml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" toml:"url,omitempty" validate:"omitempty,url"`
	Transport string            `yaml:"transport,omitempty" toml:"transport,omitempty" validate:"omitempty,oneof=stdio sse http"`
}

// CurrentServer returns the server config selected by Current
func (m MCPConfig) CurrentServer() (string, MCPServerConfig, error) {
	sc, ok := m.Servers[m.Current]
	if !ok {
		return "", MCPServerConfig{}, errors.Newf("current MCP server %q not found in mcp.servers (have: %s)",
			m.Current, strings.Join(m.ServerNames(), ", "))
	}
	return m.Current, sc, nil
}

// ServerNames returns the configured server names in sorted order
func (m MCPConfig) ServerNames() []string {
	names := make([]string, 0, len(m.Servers))
	for name := range m.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AgentConfig configures the orchestration loop
type AgentConfig struct {
	SystemPrompt      string `yaml:"system_prompt" toml:"system_prompt"`
	MaxRounds         int    `yaml:"max_rounds" toml:"max_rounds" validate:"gte=0"`
	ParallelToolCalls bool   `yaml:"parallel_tool_calls" toml:"parallel_tool_calls"`
	ToolTimeoutSec    int    `yaml:"tool_timeout_sec" toml:"tool_timeout_sec" validate:"gte=0"`

	// Computed from ToolTimeoutSec
	ToolTimeout time.Duration `yaml:"-" toml:"-"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file,omitempty" toml:"file,omitempty"`
}

// ServerConfig configures the mcpbridged HTTP listener
type ServerConfig struct {
	Address string `yaml:"address" toml:"address" validate:"required"`
}

// DefaultPath returns $MCPBRIDGE_CONFIG or ~/.config/mcpbridge/config.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "mcpbridge", "config.yaml")
	}
	return filepath.Join(home, ".config", "mcpbridge", "config.yaml")
}

func defaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Current: "azure",
			Available: map[string]ModelConfig{
				// Empty model resolves to AZURE_OPENAI_DEPLOYMENT_NAME
				"azure":         {Provider: "azure"},
				"gpt-4o":        {Provider: "openai", Model: "gpt-4o"},
				"claude-sonnet": {Provider: "claude", Model: "claude-sonnet-4-20250514"},
				"gemini-flash":  {Provider: "gemini", Model: "gemini-2.0-flash"},
			},
			MaxTokens: 1500,
		},
		MCP: MCPConfig{
			Current: "github",
			Servers: map[string]MCPServerConfig{
				"github": {
					Command: "npx",
					Args:    []string{"-y", "@modelcontextprotocol/server-github"},
					Env: map[string]string{
						"GITHUB_PERSONAL_ACCESS_TOKEN": "${GITHUB_PERSONAL_ACCESS_TOKEN}",
					},
				},
				"local": {
					Command: "mcpbridge-tools",
				},
			},
		},
		Agent: AgentConfig{
			SystemPrompt:   defaultSystemPrompt,
			MaxRounds:      20,
			ToolTimeoutSec: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Address: "localhost:7777",
		},
	}
}

// Load loads configuration from path (DefaultPath when empty), .env files
// and the environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = expandHome(path)

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	default:
		// Scalars keep their defaults unless the file sets them; the
		// model and server maps come from the file as a whole
		cfg.LLM.Current, cfg.LLM.Available = "", nil
		cfg.MCP.Current, cfg.MCP.Servers = "", nil
		if err := decode(path, data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
		applyDefaults(cfg)
	}

	applyEnvOverrides(cfg)
	computeFields(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, as TOML for a .toml path and YAML otherwise
func Save(cfg *Config, path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return errors.Wrap(err, "failed to encode config")
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to encode config")
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write config file %s", path)
	}
	return nil
}

var validate = validator.New()

// Validate checks the struct constraints and that the current model and
// server exist
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if _, err := cfg.LLM.CurrentModel(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if _, _, err := cfg.MCP.CurrentServer(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyDefaults fills in the model and server maps when the file has none
func applyDefaults(cfg *Config) {
	def := defaultConfig()

	if len(cfg.LLM.Available) == 0 {
		cfg.LLM.Available = def.LLM.Available
		if cfg.LLM.Current == "" {
			cfg.LLM.Current = def.LLM.Current
		}
	}
	if cfg.LLM.Current == "" && len(cfg.LLM.Available) == 1 {
		for name := range cfg.LLM.Available {
			cfg.LLM.Current = name
		}
	}

	if len(cfg.MCP.Servers) == 0 {
		cfg.MCP.Servers = def.MCP.Servers
		if cfg.MCP.Current == "" {
			cfg.MCP.Current = def.MCP.Current
		}
	}
	if cfg.MCP.Current == "" && len(cfg.MCP.Servers) == 1 {
		for name := range cfg.MCP.Servers {
			cfg.MCP.Current = name
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	provider := os.Getenv(EnvLLMProvider)
	model := os.Getenv(EnvLLMModel)
	if provider != "" || model != "" {
		mc := cfg.LLM.Available[cfg.LLM.Current]
		if provider != "" && provider != mc.Provider {
			// The configured model name belongs to the old provider
			mc = ModelConfig{Provider: provider}
		}
		if model != "" {
			mc.Model = model
		}
		if cfg.LLM.Available == nil {
			cfg.LLM.Available = make(map[string]ModelConfig)
		}
		if cfg.LLM.Current == "" {
			cfg.LLM.Current = "env"
		}
		cfg.LLM.Available[cfg.LLM.Current] = mc
	}

	if server := os.Getenv(EnvMCPServer); server != "" {
		cfg.MCP.Current = server
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
}

func computeFields(cfg *Config) {
	cfg.Agent.ToolTimeout = time.Duration(cfg.Agent.ToolTimeoutSec) * time.Second
}

// loadDotEnv loads every .env file in paths that exists. Variables already
// set in the environment win. A file that exists but cannot be parsed is an
// error.
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return errors.Wrapf(err, "failed to load env file %s", abs)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
