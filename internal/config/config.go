// Package config defines the application configuration and loads it from
// the environment.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Broker   BrokerConfig   `mapstructure:"broker"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Log      LogConfig      `mapstructure:"log"      validate:"required"`
}

// BrokerConfig contains the queue broker settings.
type BrokerConfig struct {
	// URL is the Redis connection URL, e.g. redis://localhost:6379/0.
	URL string `mapstructure:"url" validate:"required,url"`

	// TaskQueue is the durable named queue task records are published to.
	TaskQueue string `mapstructure:"task_queue" validate:"required"`

	// ResultQueue is the queue workers publish result records to.
	ResultQueue string `mapstructure:"result_queue" validate:"required"`
}

// DatabaseConfig contains the optional result archive settings.
// When URL is empty the archive is disabled and workers keep final state
// only on the result queue.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// WorkerConfig contains the worker runtime settings.
type WorkerConfig struct {
	// Concurrency is the number of runner goroutines consuming tasks.
	// Each runner processes one record at a time.
	Concurrency int `mapstructure:"concurrency" validate:"required,gte=1"`

	// MaxAttempts is the default delivery budget for records that do not
	// carry their own. 1 means a failing record is dead-lettered without
	// ever being redelivered.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gte=1"`

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff applied
	// between redeliveries of a failed record.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"required"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"  validate:"required"`

	// LeaseTTL is how long a per-task lease lives without renewal.
	LeaseTTL time.Duration `mapstructure:"lease_ttl" validate:"required"`

	// HeartbeatTTL and HeartbeatInterval control the worker liveness key.
	// The TTL must comfortably exceed the interval.
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"      validate:"required"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required"`

	// SweepInterval is how often maintenance jobs run (due delayed records,
	// orphaned processing lists).
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required"`

	// ProcessTimeout bounds a single task execution.
	ProcessTimeout time.Duration `mapstructure:"process_timeout" validate:"required"`
}

// LLMConfig contains the optional LLM processor settings. When GeminiAPIKey
// is empty the worker falls back to the echo processor.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}
