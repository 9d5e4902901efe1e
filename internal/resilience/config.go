package resilience

import (
	"time"
)

// FromRetryConfig converts configured values to a RetryConfig. Zero values
// keep the defaults; a negative jitter disables jitter.
func FromRetryConfig(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoff > 0 {
		cfg.InitialBackoff = initialBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	switch {
	case jitterFraction < 0:
		cfg.JitterFraction = 0
	case jitterFraction > 0:
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}
