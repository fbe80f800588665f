package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvLLMProvider, EnvLLMModel, EnvMCPServer, EnvLogLevel, EnvConfigPath} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.LLM.Current != "azure" {
		t.Errorf("default LLM current = %s, want azure", cfg.LLM.Current)
	}

	mc, err := cfg.LLM.CurrentModel()
	if err != nil {
		t.Fatalf("CurrentModel() error: %v", err)
	}
	if mc.Provider != "azure" {
		t.Errorf("default model provider = %s, want azure", mc.Provider)
	}
	if cfg.LLM.MaxTokens != 1500 {
		t.Errorf("default max tokens = %d, want 1500", cfg.LLM.MaxTokens)
	}

	name, sc, err := cfg.MCP.CurrentServer()
	if err != nil {
		t.Fatalf("CurrentServer() error: %v", err)
	}
	if name != "github" || sc.Command != "npx" {
		t.Errorf("default server = %s/%s, want github/npx", name, sc.Command)
	}
	if len(sc.Args) != 2 || sc.Args[1] != "@modelcontextprotocol/server-github" {
		t.Errorf("default server args = %v", sc.Args)
	}

	if cfg.Agent.MaxRounds != 20 {
		t.Errorf("default max rounds = %d, want 20", cfg.Agent.MaxRounds)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default logging level = %s, want info", cfg.Logging.Level)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestCurrentModel(t *testing.T) {
	llm := LLMConfig{
		Current: "gf",
		Available: map[string]ModelConfig{
			"gf":  {Provider: "gemini", Model: "gemini-2.0-flash-lite"},
			"cs4": {Provider: "claude", Model: "claude-sonnet-4-20250514"},
		},
	}

	mc, err := llm.CurrentModel()
	if err != nil {
		t.Fatalf("CurrentModel() error: %v", err)
	}
	if mc.Provider != "gemini" || mc.Model != "gemini-2.0-flash-lite" {
		t.Errorf("CurrentModel() = %+v, want gemini/gemini-2.0-flash-lite", mc)
	}
}

func TestCurrentModel_NotFound(t *testing.T) {
	llm := LLMConfig{
		Current:   "missing",
		Available: map[string]ModelConfig{},
	}

	if _, err := llm.CurrentModel(); err == nil {
		t.Error("CurrentModel() should return error for missing key")
	}
}

func TestModelNames(t *testing.T) {
	llm := LLMConfig{
		Available: map[string]ModelConfig{
			"zulu":  {Provider: "claude", Model: "c"},
			"alpha": {Provider: "gemini", Model: "g"},
			"mike":  {Provider: "claude", Model: "c2"},
		},
	}

	names := llm.ModelNames()
	if len(names) != 3 {
		t.Fatalf("ModelNames() returned %d names, want 3", len(names))
	}
	if names[0] != "alpha" || names[1] != "mike" || names[2] != "zulu" {
		t.Errorf("ModelNames() = %v, want [alpha mike zulu]", names)
	}
}

func TestLoad_NoFile(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() with non-existent file returned error: %v", err)
	}

	mc, err := cfg.LLM.CurrentModel()
	if err != nil {
		t.Fatalf("CurrentModel() error: %v", err)
	}
	if mc.Provider != "azure" {
		t.Errorf("LLM provider = %s, want azure", mc.Provider)
	}
	if cfg.Agent.ToolTimeout != 120*time.Second {
		t.Errorf("tool timeout = %v, want 2m", cfg.Agent.ToolTimeout)
	}
}

func TestLoad_WithFile(t *testing.T) {
	clearEnvOverrides(t)

	configPath := writeConfig(t, "config.yaml", `llm:
  current: gemini-flash
  available:
    gemini-flash:
      provider: gemini
      model: gemini-2.0-flash-exp

logging:
  level: debug
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	mc, err := cfg.LLM.CurrentModel()
	if err != nil {
		t.Fatalf("CurrentModel() error: %v", err)
	}
	if mc.Provider != "gemini" {
		t.Errorf("LLM provider = %s, want gemini", mc.Provider)
	}
	if mc.Model != "gemini-2.0-flash-exp" {
		t.Errorf("LLM model = %s, want gemini-2.0-flash-exp", mc.Model)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging level = %s, want debug", cfg.Logging.Level)
	}

	// Sections the file leaves out keep their defaults
	if cfg.MCP.Current != "github" {
		t.Errorf("MCP current = %s, want github", cfg.MCP.Current)
	}
	if cfg.Agent.MaxRounds != 20 {
		t.Errorf("max rounds = %d, want 20", cfg.Agent.MaxRounds)
	}
	if cfg.LLM.MaxTokens != 1500 {
		t.Errorf("max tokens = %d, want 1500", cfg.LLM.MaxTokens)
	}
}

func TestLoad_SingleEntryBecomesCurrent(t *testing.T) {
	clearEnvOverrides(t)

	configPath := writeConfig(t, "config.yaml", `mcp:
  servers:
    tools:
      command: mcpbridge-tools
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.MCP.Current != "tools" {
		t.Errorf("MCP current = %s, want tools", cfg.MCP.Current)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnvOverrides(t)

	configPath := writeConfig(t, "config.toml", `
[llm]
current = "claude"
max_tokens = 800

[llm.available.claude]
provider = "claude"
model = "claude-sonnet-4-20250514"

[mcp]
current = "remote"

[mcp.servers.remote]
url = "http://localhost:9000/mcp"
transport = "http"

[agent]
max_rounds = 0
parallel_tool_calls = true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.LLM.MaxTokens != 800 {
		t.Errorf("max tokens = %d, want 800", cfg.LLM.MaxTokens)
	}
	_, sc, err := cfg.MCP.CurrentServer()
	if err != nil {
		t.Fatalf("CurrentServer() error: %v", err)
	}
	if sc.URL != "http://localhost:9000/mcp" || sc.Transport != "http" {
		t.Errorf("server = %+v", sc)
	}
	if cfg.Agent.MaxRounds != 0 || !cfg.Agent.ParallelToolCalls {
		t.Errorf("agent = %+v, want unbounded parallel", cfg.Agent)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv(EnvLLMProvider, "gemini")
	t.Setenv(EnvLLMModel, "test-model")
	t.Setenv(EnvMCPServer, "local")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	mc, err := cfg.LLM.CurrentModel()
	if err != nil {
		t.Fatalf("CurrentModel() error: %v", err)
	}
	if mc.Provider != "gemini" {
		t.Errorf("LLM provider = %s, want gemini (from env)", mc.Provider)
	}
	if mc.Model != "test-model" {
		t.Errorf("LLM model = %s, want test-model (from env)", mc.Model)
	}
	if cfg.MCP.Current != "local" {
		t.Errorf("MCP current = %s, want local (from env)", cfg.MCP.Current)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug (from env)", cfg.Logging.Level)
	}
}

func TestLoad_EnvUnknownServer(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv(EnvMCPServer, "nope")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("Load() error = %v, want unknown server error", err)
	}
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnvOverrides(t)
	configPath := writeConfig(t, "custom.yaml", "logging:\n  level: warn\n")
	t.Setenv(EnvConfigPath, configPath)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %s, want warn", cfg.Logging.Level)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	clearEnvOverrides(t)
	const key = "MCPBRIDGE_TEST_DOTENV_VALUE"
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s = %q, want from-dotenv", key, got)
	}
}

func TestLoad_MalformedDotEnv(t *testing.T) {
	clearEnvOverrides(t)

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MCPBRIDGE_TEST_BROKEN=\"unterminated\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(filepath.Join(dir, "config.yaml"))
	if err == nil {
		t.Fatal("expected error for malformed .env file")
	}
	if !strings.Contains(err.Error(), envPath) {
		t.Errorf("error %q does not name %s", err, envPath)
	}
}

func TestLoad_ComputedFields(t *testing.T) {
	clearEnvOverrides(t)
	configPath := writeConfig(t, "config.yaml", "agent:\n  tool_timeout_sec: 7\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	expected := time.Duration(cfg.Agent.ToolTimeoutSec) * time.Second
	if cfg.Agent.ToolTimeout != expected || expected != 7*time.Second {
		t.Errorf("Tool timeout = %v, want %v", cfg.Agent.ToolTimeout, 7*time.Second)
	}
}

func TestSave(t *testing.T) {
	clearEnvOverrides(t)

	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "nested", name)

			cfg := defaultConfig()
			cfg.LLM.Current = "gemini-flash"
			cfg.LLM.Available["gemini-flash"] = ModelConfig{Provider: "gemini", Model: "gemini-2.0-flash-lite"}
			cfg.Logging.Level = "debug"

			if err := Save(cfg, configPath); err != nil {
				t.Fatalf("Save() returned error: %v", err)
			}

			loadedCfg, err := Load(configPath)
			if err != nil {
				t.Fatalf("Load() after Save() returned error: %v", err)
			}

			mc, err := loadedCfg.LLM.CurrentModel()
			if err != nil {
				t.Fatalf("CurrentModel() error: %v", err)
			}
			if mc.Provider != "gemini" {
				t.Errorf("Loaded config LLM provider = %s, want gemini", mc.Provider)
			}
			if loadedCfg.Logging.Level != "debug" {
				t.Errorf("Loaded config logging level = %s, want debug", loadedCfg.Logging.Level)
			}
			if len(loadedCfg.MCP.Servers) != 2 {
				t.Errorf("Loaded config servers = %d, want 2", len(loadedCfg.MCP.Servers))
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "not: valid: yaml:")

	if _, err := Load(configPath); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnvOverrides(t)

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown provider",
			yaml: "llm:\n  current: x\n  available:\n    x:\n      provider: ollama\n",
		},
		{
			name: "bad log level",
			yaml: "logging:\n  level: loud\n",
		},
		{
			name: "server without command or url",
			yaml: "mcp:\n  current: s\n  servers:\n    s:\n      args: [a]\n",
		},
		{
			name: "bad transport",
			yaml: "mcp:\n  current: s\n  servers:\n    s:\n      url: http://x/mcp\n      transport: carrier-pigeon\n",
		},
		{
			name: "negative rounds",
			yaml: "agent:\n  max_rounds: -1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, "config.yaml", tt.yaml)); err == nil {
				t.Error("Load() should reject invalid configuration")
			}
		})
	}
}

func TestLoad_HomeDirectory(t *testing.T) {
	clearEnvOverrides(t)
	if _, err := Load("~/nonexistent-mcpbridge.yaml"); err != nil {
		t.Errorf("Load() with ~ path returned unexpected error: %v", err)
	}
}
