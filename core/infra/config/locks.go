package config

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backoff is a randomized exponential backoff policy for caller-side
// acquire retries. The core clients never retry on their own; this policy
// only shapes the explicit retry loop a caller opts into.
type Backoff struct {
	BaseMs     int64   `yaml:"base_ms" json:"base_ms"`
	MaxMs      int64   `yaml:"max_ms" json:"max_ms"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	Jitter     bool    `yaml:"jitter" json:"jitter"`
}

// Delay returns the wait before retry number attempt (0-based). With Jitter
// set, the delay is drawn uniformly from (0, ceiling] so that many callers
// contending for one resource do not retry in lockstep.
func (b Backoff) Delay(attempt int) time.Duration {
	base := time.Duration(b.BaseMs) * time.Millisecond
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	max := time.Duration(b.MaxMs) * time.Millisecond
	if max <= 0 {
		max = 2 * time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	ceiling := float64(base)
	for i := 0; i < attempt; i++ {
		ceiling *= mult
		if ceiling >= float64(max) {
			ceiling = float64(max)
			break
		}
	}
	d := time.Duration(ceiling)
	if d > max {
		d = max
	}
	if b.Jitter {
		d = time.Duration(rand.Int63n(int64(d)) + 1)
	}
	return d
}

// Locks is the explicit lock-client configuration surface. Every knob is
// operator-supplied; in particular the clock-drift margin has no default
// because no operationally sound bound can be assumed on the caller's behalf.
type Locks struct {
	TTLMs              int64    `yaml:"ttl_ms" json:"ttl_ms"`
	PerStoreTimeoutMs  int64    `yaml:"per_store_timeout_ms" json:"per_store_timeout_ms"`
	ClockDriftMarginMs int64    `yaml:"clock_drift_margin_ms" json:"clock_drift_margin_ms"`
	Endpoints          []string `yaml:"endpoints" json:"endpoints"`
	RetryBackoff       Backoff  `yaml:"retry_backoff" json:"retry_backoff"`
}

func (l *Locks) TTL() time.Duration {
	return time.Duration(l.TTLMs) * time.Millisecond
}

func (l *Locks) PerStoreTimeout() time.Duration {
	return time.Duration(l.PerStoreTimeoutMs) * time.Millisecond
}

func (l *Locks) ClockDriftMargin() time.Duration {
	return time.Duration(l.ClockDriftMarginMs) * time.Millisecond
}

// LoadLocks loads and validates the YAML lock configuration.
func LoadLocks(path string) (*Locks, error) {
	if path == "" {
		return nil, fmt.Errorf("lock config path required")
	}
	// #nosec G304 -- lock config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lock config: %w", err)
	}
	return ParseLocks(data)
}

// ParseLocks parses lock configuration from YAML/JSON bytes.
func ParseLocks(data []byte) (*Locks, error) {
	if err := validateConfigSchema("locks", locksSchemaFile, data); err != nil {
		return nil, err
	}
	var cfg Locks
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse lock config: %w", err)
	}
	if cfg.TTLMs <= 0 {
		cfg.TTLMs = 10_000
	}
	if cfg.PerStoreTimeoutMs <= 0 {
		cfg.PerStoreTimeoutMs = 500
	}
	if cfg.ClockDriftMarginMs <= 0 {
		return nil, fmt.Errorf("clock_drift_margin_ms must be set explicitly and positive")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one store endpoint required")
	}
	return &cfg, nil
}
