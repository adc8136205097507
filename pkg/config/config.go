// Package config loads orchestrator configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the orchestrator process.
type Config struct {
	// HTTP
	Host string
	Port int

	// Storage
	DatabasePath string

	// Filesystem sandbox root for all file-touching tools. Resolved to an
	// absolute path at load time.
	WorkspaceRoot string

	// LLM provider (OpenAI-compatible)
	LLMAPIKey    string
	LLMAPIBase   string
	DefaultModel string
	MaxTokens    int
	Temperature  float64

	// Agent loop
	MaxIterations         int
	SubagentMaxIterations int
	MaxHistoryMessages    int
	SummaryTriggerBytes   int
	TitleMaxChars         int

	// Permissions
	ToolPolicyDefault string
	PermissionTimeout time.Duration

	// SSE
	SSEWaitTimeout    time.Duration
	HeartbeatInterval time.Duration

	// Tools
	ToolOutputEventLimit int
	FetchMaxBytes        int
	CommandTimeout       time.Duration
	EnableRunCommand     bool
	DisabledTools        []string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment with defaults suitable for
// local development.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                  getEnv("OPENLOOP_HOST", "127.0.0.1"),
		Port:                  getEnvInt("OPENLOOP_PORT", 8080),
		DatabasePath:          getEnv("OPENLOOP_DB_PATH", "openloop.db"),
		WorkspaceRoot:         getEnv("OPENLOOP_WORKSPACE", "./workspace"),
		LLMAPIKey:             os.Getenv("OPENLOOP_API_KEY"),
		LLMAPIBase:            os.Getenv("OPENLOOP_API_BASE"),
		DefaultModel:          getEnv("OPENLOOP_MODEL", "gpt-4.1"),
		MaxTokens:             getEnvInt("OPENLOOP_MAX_TOKENS", 4096),
		Temperature:           getEnvFloat("OPENLOOP_TEMPERATURE", 0.7),
		MaxIterations:         getEnvInt("OPENLOOP_MAX_ITERATIONS", 20),
		SubagentMaxIterations: getEnvInt("OPENLOOP_SUBAGENT_MAX_ITERATIONS", 12),
		MaxHistoryMessages:    getEnvInt("OPENLOOP_MAX_HISTORY_MESSAGES", 40),
		SummaryTriggerBytes:   getEnvInt("OPENLOOP_SUMMARY_TRIGGER_BYTES", 4000),
		TitleMaxChars:         getEnvInt("OPENLOOP_TITLE_MAX_CHARS", 48),
		ToolPolicyDefault:     getEnv("OPENLOOP_TOOL_POLICY_DEFAULT", "ask"),
		PermissionTimeout:     getEnvDuration("OPENLOOP_PERMISSION_TIMEOUT", 120*time.Second),
		SSEWaitTimeout:        getEnvDuration("OPENLOOP_SSE_WAIT_TIMEOUT", 15*time.Second),
		HeartbeatInterval:     getEnvDuration("OPENLOOP_HEARTBEAT_INTERVAL", 15*time.Second),
		ToolOutputEventLimit:  getEnvInt("OPENLOOP_TOOL_OUTPUT_EVENT_LIMIT", 2000),
		FetchMaxBytes:         getEnvInt("OPENLOOP_FETCH_MAX_BYTES", 100_000),
		CommandTimeout:        getEnvDuration("OPENLOOP_COMMAND_TIMEOUT", 60*time.Second),
		EnableRunCommand:      getEnvBool("OPENLOOP_ENABLE_RUN_COMMAND", false),
		DisabledTools:         splitList(os.Getenv("OPENLOOP_DISABLED_TOOLS")),
		LogLevel:              getEnv("OPENLOOP_LOG_LEVEL", "info"),
		LogFormat:             getEnv("OPENLOOP_LOG_FORMAT", "text"),
	}

	root, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	cfg.WorkspaceRoot = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	switch c.ToolPolicyDefault {
	case "deny", "ask", "allow":
	default:
		return fmt.Errorf("invalid tool policy default %q: must be deny, ask, or allow", c.ToolPolicyDefault)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.SubagentMaxIterations < 1 {
		return fmt.Errorf("subagent max iterations must be at least 1, got %d", c.SubagentMaxIterations)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.LogFormat)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToolDisabled reports whether a tool was disabled by configuration.
func (c *Config) ToolDisabled(name string) bool {
	for _, t := range c.DisabledTools {
		if t == name {
			return true
		}
	}
	if name == "run_command" && !c.EnableRunCommand {
		return true
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
