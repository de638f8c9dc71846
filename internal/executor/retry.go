package executor

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/seaquant/tradeflow/internal/broker"
	"github.com/seaquant/tradeflow/internal/config"
)

// RetryPolicy names the back-off strategy between submit attempts.
type RetryPolicy string

// Supported retry policies.
const (
	RetryNone               RetryPolicy = "none"
	RetryFixedDelay         RetryPolicy = "fixed_delay"
	RetryExponentialBackoff RetryPolicy = "exponential_backoff"
)

// RetryConfig bounds order submission retries.
type RetryConfig struct {
	Policy      RetryPolicy
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	// RetryOn restricts retries to the listed error kinds. Empty retries
	// every retryable kind.
	RetryOn []broker.Kind
}

// Config parameterizes the executor.
type Config struct {
	Retry            RetryConfig
	FillWaitTimeout  time.Duration
	EventHistorySize int
	// MaxInFlight bounds concurrently executing signals in Run.
	MaxInFlight int
}

// DefaultConfig retries transient failures three times with exponential
// back-off and waits up to thirty seconds for a fill.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			Policy:      RetryExponentialBackoff,
			MaxAttempts: 3,
			Delay:       500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Jitter:      true,
		},
		FillWaitTimeout:  30 * time.Second,
		EventHistorySize: 1000,
		MaxInFlight:      16,
	}
}

// FromConfig builds an executor Config from its configuration block.
// Unset fields keep their defaults; Jitter is carried as-is because the
// loader supplies its default.
func FromConfig(ec config.ExecutorConfig) (Config, error) {
	cfg := DefaultConfig()
	if ec.RetryPolicy != "" {
		switch RetryPolicy(ec.RetryPolicy) {
		case RetryNone, RetryFixedDelay, RetryExponentialBackoff:
			cfg.Retry.Policy = RetryPolicy(ec.RetryPolicy)
		default:
			return Config{}, fmt.Errorf("executor config: unknown retry policy %q", ec.RetryPolicy)
		}
	}
	if ec.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = ec.MaxAttempts
	}
	if ec.RetryDelayMS > 0 {
		cfg.Retry.Delay = time.Duration(ec.RetryDelayMS) * time.Millisecond
	}
	if ec.RetryMaxDelayMS > 0 {
		cfg.Retry.MaxDelay = time.Duration(ec.RetryMaxDelayMS) * time.Millisecond
	}
	cfg.Retry.Jitter = ec.RetryJitter
	if ec.FillWaitTimeoutSec > 0 {
		cfg.FillWaitTimeout = time.Duration(ec.FillWaitTimeoutSec) * time.Second
	}
	if ec.EventHistorySize > 0 {
		cfg.EventHistorySize = ec.EventHistorySize
	}
	return cfg, nil
}

// nonRetryable kinds fail immediately regardless of policy: resubmitting an
// invalid or unaffordable order cannot succeed, and auth failures need
// operator attention.
func nonRetryable(kind broker.Kind) bool {
	switch kind {
	case broker.KindOrderInvalid, broker.KindInsufficientFunds, broker.KindAuthentication:
		return true
	}
	return false
}

func (rc RetryConfig) shouldRetry(kind broker.Kind) bool {
	if rc.Policy == RetryNone {
		return false
	}
	if nonRetryable(kind) {
		return false
	}
	if len(rc.RetryOn) == 0 {
		return true
	}
	for _, k := range rc.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// backoff computes the wait before the next attempt. A broker-supplied
// Retry-After hint wins over the configured policy.
func (rc RetryConfig) backoff(attempt int, err error) time.Duration {
	if d, ok := broker.RetryAfterOf(err); ok && d > 0 {
		return d
	}
	base := rc.Delay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if rc.Policy != RetryExponentialBackoff {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if rc.MaxDelay > 0 && d >= rc.MaxDelay {
			d = rc.MaxDelay
			break
		}
	}
	if rc.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return d
}
