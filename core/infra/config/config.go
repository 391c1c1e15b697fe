package config

import "os"

const (
	defaultRedisURL    = "redis://localhost:6379"
	defaultListenAddr  = ":7600"
	defaultMetricsAddr = ":9090"
	defaultLockConfig  = "config/locks.yaml"
	envRedisURL        = "REDIS_URL"
	envListenAddr      = "LOCKD_ADDR"
	envMetricsAddr     = "METRICS_ADDR"
	envLockConfigPath  = "LOCK_CONFIG_PATH"
)

// Config holds runtime configuration for the lockd daemon and CLI.
type Config struct {
	RedisURL       string
	ListenAddr     string
	MetricsAddr    string
	LockConfigPath string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}
	listenAddr := os.Getenv(envListenAddr)
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	lockCfg := os.Getenv(envLockConfigPath)
	if lockCfg == "" {
		lockCfg = defaultLockConfig
	}
	return &Config{
		RedisURL:       redisURL,
		ListenAddr:     listenAddr,
		MetricsAddr:    metricsAddr,
		LockConfigPath: lockCfg,
	}
}
