package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all configuration environment variables,
// e.g. TASKRELAY_BROKER_URL maps to broker.url.
const envPrefix = "TASKRELAY"

// Load reads configuration from environment variables, applies defaults,
// and validates the result. Environment variables take precedence over
// defaults. Returns a populated Config struct or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every configuration key. Viper only
// picks up environment variables for keys it knows about, so every key must
// appear here even when the default is empty.
func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.url", "redis://localhost:6379/0")
	v.SetDefault("broker.task_queue", "task_queue")
	v.SetDefault("broker.result_queue", "result_queue")

	v.SetDefault("database.url", "")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_base_delay", "5s")
	v.SetDefault("worker.retry_max_delay", "5m")
	v.SetDefault("worker.lease_ttl", "30s")
	v.SetDefault("worker.heartbeat_ttl", "15s")
	v.SetDefault("worker.heartbeat_interval", "5s")
	v.SetDefault("worker.sweep_interval", "5s")
	v.SetDefault("worker.process_timeout", "10m")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")

	v.SetDefault("log.level", "info")
}
