// Package config loads the engine's runtime configuration, following
// cloudshipai-station/internal/config/config.go's layering: defaults set
// first, then an optional file, then environment variables (COLONY_*)
// override — using Viper exactly as the teacher does, trimmed to the fields
// this domain needs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the control-plane needs at boot.
// ListenAddr is kept only as data; nothing in this module reads it, and no
// HTTP server is started (spec.md §1's transport is out of scope).
type Config struct {
	DatabasePath       string        `mapstructure:"database_path"`
	WorkflowDir        string        `mapstructure:"workflow_dir"`
	SchedulerTick      time.Duration `mapstructure:"scheduler_tick"`
	HeartbeatTimeout   time.Duration `mapstructure:"heartbeat_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ListenAddr         string        `mapstructure:"listen_addr"`
	LogLevel           string        `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "./colony.db")
	v.SetDefault("workflow_dir", "./workflows")
	v.SetDefault("scheduler_tick", "1s")
	v.SetDefault("heartbeat_timeout", "30s")
	v.SetDefault("heartbeat_interval", "5s")
	v.SetDefault("listen_addr", "")
	v.SetDefault("log_level", "info")
}

// Load reads defaults, then an optional config file at path (TOML, YAML, or
// JSON — Viper infers from the extension; empty path skips the file and
// relies on defaults + environment only), then COLONY_* environment
// variables, which win over both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("COLONY")
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database_path", "COLONY_DATABASE_PATH")
	_ = v.BindEnv("workflow_dir", "COLONY_WORKFLOW_DIR")
	_ = v.BindEnv("scheduler_tick", "COLONY_SCHEDULER_TICK")
	_ = v.BindEnv("heartbeat_timeout", "COLONY_HEARTBEAT_TIMEOUT")
	_ = v.BindEnv("heartbeat_interval", "COLONY_HEARTBEAT_INTERVAL")
	_ = v.BindEnv("listen_addr", "COLONY_LISTEN_ADDR")
	_ = v.BindEnv("log_level", "COLONY_LOG_LEVEL")
}
