// Package config loads and validates the interceptor's environment-driven
// configuration (spec.md §6 "Environment configuration"). It is grounded on
// the teacher's pkg/config/config.go, adapted from file-backed YAML with a
// struct cache to pure environment variables: this service ships no config
// file, so Load reads only the process environment via viper's
// AutomaticEnv mode.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully validated, immutable configuration for one process
// lifetime. All fields have defaults; see spec.md §6.
type Config struct {
	SyncThreshold             float64
	MaxMessageLength          int
	CircuitBreakerThreshold   int
	CircuitBreakerResetMs     int
	CircuitBreakerHalfOpenMax int
	LogBackendHost            string
	LogBackendPort            int
	DetectorBackendHost       string
	DetectorBackendPort       int
	DetectorTopic             string
	WSPort                    int
	HealthPort                int
	LogLevel                  string
}

// ResetTimeout is a convenience accessor turning the millisecond field into
// a time.Duration for internal/breaker.
func (c Config) ResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetMs) * time.Millisecond
}

var (
	once    sync.Once
	cached  Config
	loadErr error
)

// Load returns the process-wide Config, reading and validating the
// environment exactly once per process (sync.Once, mirroring the teacher's
// package-level globalConfig cache). Subsequent calls are free.
func Load() (Config, error) {
	once.Do(func() {
		cached, loadErr = load()
	})
	return cached, loadErr
}

// ResetForTest clears the cached config and sync.Once guard so tests can
// exercise Load multiple times against different environments. Not used
// outside _test.go files.
func ResetForTest() {
	once = sync.Once{}
	cached = Config{}
	loadErr = nil
}

func load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("sync_threshold", 0.65)
	v.SetDefault("max_message_length", 10000)
	v.SetDefault("circuit_breaker_threshold", 5)
	v.SetDefault("circuit_breaker_reset_ms", 30000)
	v.SetDefault("circuit_breaker_half_open_max_attempts", 1)
	v.SetDefault("log_backend_host", "localhost")
	v.SetDefault("log_backend_port", 6379)
	v.SetDefault("detector_backend_host", "localhost")
	v.SetDefault("detector_backend_port", 9092)
	v.SetDefault("detector_topic", "cis.detector.analyze")
	v.SetDefault("ws_port", 8080)
	v.SetDefault("health_port", 8081)
	v.SetDefault("log_level", "info")

	cfg := Config{
		SyncThreshold:             v.GetFloat64("sync_threshold"),
		MaxMessageLength:          v.GetInt("max_message_length"),
		CircuitBreakerThreshold:   v.GetInt("circuit_breaker_threshold"),
		CircuitBreakerResetMs:     v.GetInt("circuit_breaker_reset_ms"),
		CircuitBreakerHalfOpenMax: v.GetInt("circuit_breaker_half_open_max_attempts"),
		LogBackendHost:            v.GetString("log_backend_host"),
		LogBackendPort:            v.GetInt("log_backend_port"),
		DetectorBackendHost:       v.GetString("detector_backend_host"),
		DetectorBackendPort:       v.GetInt("detector_backend_port"),
		DetectorTopic:             v.GetString("detector_topic"),
		WSPort:                    v.GetInt("ws_port"),
		HealthPort:                v.GetInt("health_port"),
		LogLevel:                  v.GetString("log_level"),
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.SyncThreshold < 0 || cfg.SyncThreshold > 1 {
		return fmt.Errorf("config: SYNC_THRESHOLD must be in [0,1], got %v", cfg.SyncThreshold)
	}
	if cfg.MaxMessageLength <= 0 {
		return fmt.Errorf("config: MAX_MESSAGE_LENGTH must be positive, got %d", cfg.MaxMessageLength)
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("config: CIRCUIT_BREAKER_THRESHOLD must be positive, got %d", cfg.CircuitBreakerThreshold)
	}
	if cfg.CircuitBreakerResetMs < 1000 {
		return fmt.Errorf("config: CIRCUIT_BREAKER_RESET_MS must be >= 1000, got %d", cfg.CircuitBreakerResetMs)
	}
	if cfg.CircuitBreakerHalfOpenMax < 1 || cfg.CircuitBreakerHalfOpenMax > 3 {
		return fmt.Errorf("config: CIRCUIT_BREAKER_HALF_OPEN_MAX_ATTEMPTS must be in [1,3], got %d", cfg.CircuitBreakerHalfOpenMax)
	}
	if cfg.WSPort <= 0 || cfg.WSPort > 65535 {
		return fmt.Errorf("config: WS_PORT must be a valid port, got %d", cfg.WSPort)
	}
	if cfg.HealthPort <= 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("config: HEALTH_PORT must be a valid port, got %d", cfg.HealthPort)
	}
	if cfg.WSPort == cfg.HealthPort {
		return fmt.Errorf("config: WS_PORT and HEALTH_PORT must differ, both %d", cfg.WSPort)
	}
	if cfg.LogBackendPort <= 0 || cfg.LogBackendPort > 65535 {
		return fmt.Errorf("config: LOG_BACKEND_PORT must be a valid port, got %d", cfg.LogBackendPort)
	}
	if cfg.DetectorBackendPort <= 0 || cfg.DetectorBackendPort > 65535 {
		return fmt.Errorf("config: DETECTOR_BACKEND_PORT must be a valid port, got %d", cfg.DetectorBackendPort)
	}
	return nil
}
