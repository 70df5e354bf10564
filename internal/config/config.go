// Package config loads process configuration from the environment, once,
// at startup, and hands out an immutable Config to every component.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/yenjordan/terminus/internal/logger"
)

type Config struct {
	Server    ServerConfig
	Workspace WorkspaceConfig
	Timeouts  TimeoutConfig
	Auth      AuthConfig
	Logging   LogConfig
}

type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

type WorkspaceConfig struct {
	Root string `envconfig:"WORKSPACE_ROOT" default:"/tmp/terminus_workspace"`
	Mode uint32 `envconfig:"WORKSPACE_MODE" default:"493"` // 0755
}

type TimeoutConfig struct {
	ExecutionDeadline time.Duration `envconfig:"EXECUTION_DEADLINE" default:"10s"`
	ExecutionKillGrace time.Duration `envconfig:"EXECUTION_KILL_GRACE" default:"500ms"`
	PTYDrainDeadline  time.Duration `envconfig:"PTY_DRAIN_DEADLINE" default:"3s"`
	PTYKillGrace      time.Duration `envconfig:"PTY_KILL_GRACE" default:"2s"`
	PingInterval      time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
	IdleSessionTTL    time.Duration `envconfig:"IDLE_SESSION_TTL" default:"30m"`
	WorkspaceSyncMax  time.Duration `envconfig:"WORKSPACE_SYNC_MAX" default:"2s"`
	ReaperInterval    time.Duration `envconfig:"REAPER_INTERVAL" default:"60s"`
	DetachFlushWindow time.Duration `envconfig:"DETACH_FLUSH_WINDOW" default:"200ms"`

	OutboundQueueDepth int `envconfig:"OUTBOUND_QUEUE_DEPTH" default:"1024"`
	StdoutCapBytes     int `envconfig:"STDOUT_CAP_BYTES" default:"1048576"`
	StderrCapBytes     int `envconfig:"STDERR_CAP_BYTES" default:"1048576"`
	ShellOutputWindow  time.Duration `envconfig:"SHELL_OUTPUT_WINDOW" default:"16ms"`
	ShellOutputMaxBatch int `envconfig:"SHELL_OUTPUT_MAX_BATCH" default:"4096"`
}

type AuthConfig struct {
	// JWTSecret signs/verifies the default auth.Verifier's HS256 tokens.
	// A real deployment overrides this and swaps the Verifier entirely.
	JWTSecret string `envconfig:"JWT_SECRET" default:"terminus-dev-secret-change-me"`
}

type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads configuration from the environment, applying the defaults
// above for anything unset.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads from the environment and falls back to Default on
// any parse error, logging the failure rather than aborting startup.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		logger.Errorf("config: %v, using defaults", err)
		return Default()
	}
	return cfg
}

// Default returns a hermetic configuration for tests and standalone runs.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Workspace: WorkspaceConfig{
			Root: "/tmp/terminus_workspace",
			Mode: 0755,
		},
		Timeouts: TimeoutConfig{
			ExecutionDeadline:   10 * time.Second,
			ExecutionKillGrace:  500 * time.Millisecond,
			PTYDrainDeadline:    3 * time.Second,
			PTYKillGrace:        2 * time.Second,
			PingInterval:        30 * time.Second,
			IdleSessionTTL:      30 * time.Minute,
			WorkspaceSyncMax:    2 * time.Second,
			ReaperInterval:      60 * time.Second,
			DetachFlushWindow:   200 * time.Millisecond,
			OutboundQueueDepth:  1024,
			StdoutCapBytes:      1 << 20,
			StderrCapBytes:      1 << 20,
			ShellOutputWindow:   16 * time.Millisecond,
			ShellOutputMaxBatch: 4096,
		},
		Auth: AuthConfig{
			JWTSecret: "terminus-dev-secret-change-me",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
