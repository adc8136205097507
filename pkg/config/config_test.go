package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "ask", cfg.ToolPolicyDefault)
	assert.Equal(t, 20, cfg.MaxIterations)
	assert.Equal(t, 12, cfg.SubagentMaxIterations)
	assert.Equal(t, 2000, cfg.ToolOutputEventLimit)
	assert.Equal(t, 120*time.Second, cfg.PermissionTimeout)
	assert.True(t, cfg.ToolDisabled("run_command"), "run_command should be disabled by default")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENLOOP_PORT", "9999")
	t.Setenv("OPENLOOP_TOOL_POLICY_DEFAULT", "allow")
	t.Setenv("OPENLOOP_PERMISSION_TIMEOUT", "30s")
	t.Setenv("OPENLOOP_SSE_WAIT_TIMEOUT", "5")
	t.Setenv("OPENLOOP_ENABLE_RUN_COMMAND", "true")
	t.Setenv("OPENLOOP_DISABLED_TOOLS", "http_fetch, search_files")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "allow", cfg.ToolPolicyDefault)
	assert.Equal(t, 30*time.Second, cfg.PermissionTimeout)
	assert.Equal(t, 5*time.Second, cfg.SSEWaitTimeout, "bare integers are seconds")
	assert.False(t, cfg.ToolDisabled("run_command"))
	assert.True(t, cfg.ToolDisabled("http_fetch"))
	assert.True(t, cfg.ToolDisabled("search_files"))
	assert.False(t, cfg.ToolDisabled("write_file"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: "invalid port",
		},
		{
			name:    "bad policy",
			mutate:  func(c *Config) { c.ToolPolicyDefault = "maybe" },
			wantErr: "invalid tool policy default",
		},
		{
			name:    "zero iterations",
			mutate:  func(c *Config) { c.MaxIterations = 0 },
			wantErr: "max iterations",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
