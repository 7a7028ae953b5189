// Package retry retries operations that fail while a file is still being
// written, with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/exrcache/exrcache/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, the first included
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads delays by up to 20% either way
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists the codes that trigger a retry. Truncated
	// reads (io.EOF, io.ErrUnexpectedEOF) are retried as INPUT_PARTIAL.
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig retries the errors seen while another process rewrites a
// file: it briefly vanishes during a rename, or is read half written.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeFileNotFound,
			errors.ErrCodeStreamRead,
			errors.ErrCodeInputPartial,
			errors.ErrCodeInputCorrupt,
			errors.ErrCodeFormatInvalid,
		},
	}
}

// Retryer handles retry logic with exponential backoff
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 50 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 2 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	return &Retryer{config: config}
}

// Do runs fn until it succeeds, fails with an error that is not
// retryable, runs out of attempts or ctx ends. A context error is
// returned as OPERATION_CANCELED.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return canceled(err, attempt-1)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.config.MaxAttempts || !r.Retryable(err) {
			break
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return canceled(ctx.Err(), attempt)
		case <-timer.C:
		}
	}

	return lastErr
}

// Retryable reports whether err carries one of the configured codes.
func (r *Retryer) Retryable(err error) bool {
	if errors.IsCanceled(err) {
		return false
	}
	for _, code := range r.config.RetryableErrors {
		if errors.IsCode(err, code) {
			return true
		}
		if code == errors.ErrCodeInputPartial && errors.IsInputError(err) {
			return true
		}
	}
	return false
}

// delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}

	return time.Duration(d)
}

func canceled(err error, attempts int) error {
	return errors.Wrap(err, errors.ErrCodeOperationCanceled, "retry canceled").
		WithComponent("retry").
		WithDetail("attempts", attempts)
}
