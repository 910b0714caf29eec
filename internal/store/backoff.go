package store

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

const txRetryLimit = 3

// BackoffConfig shapes retry delays for serialization conflicts.
type BackoffConfig struct {
	InitialDelayMS int
	BackoffFactor  float64
	MaxDelayMS     int
	Jitter         bool
}

func defaultTxBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelayMS: 20,
		BackoffFactor:  2.0,
		MaxDelayMS:     500,
		Jitter:         true,
	}
}

// DelayForAttempt computes initial * factor^(attempt-1) capped at max, with
// deterministic seed-derived jitter in [0.5x, 1.5x] when enabled. attempt is
// 1-indexed.
func DelayForAttempt(attempt int, cfg BackoffConfig, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.InitialDelayMS <= 0 {
		return 0
	}
	baseMS := float64(cfg.InitialDelayMS) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 {
		baseMS = math.Min(baseMS, float64(cfg.MaxDelayMS))
	}
	if cfg.Jitter {
		baseMS *= 0.5 + jitterUnit(jitterSeed)
	}
	if baseMS < 0 {
		baseMS = 0
	}
	return time.Duration(baseMS * float64(time.Millisecond))
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}
