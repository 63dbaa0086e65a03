package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/vietddude/harvester/internal/processing/metrics"
)

// Policy defines retry behavior for a single call.
type Policy struct {
	MaxRetries      int           `yaml:"max_retries"      split_words:"true"`
	BaseDelay       time.Duration `yaml:"base_delay"       split_words:"true"`
	MaxDelay        time.Duration `yaml:"max_delay"        split_words:"true"`
	ExponentialBase float64       `yaml:"exponential_base" split_words:"true"`
	Jitter          float64       `yaml:"jitter"`
}

// DefaultPolicy: 1s, 2s, 4s (max 5m) with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        5 * time.Minute,
		ExponentialBase: 2.0,
		Jitter:          0.1,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxRetries, validation.Min(0)),
		validation.Field(&p.BaseDelay, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&p.MaxDelay, validation.Required, validation.Min(p.BaseDelay)),
		validation.Field(&p.ExponentialBase, validation.Required, validation.Min(1.0).Exclusive()),
		validation.Field(&p.Jitter, validation.Min(0.0), validation.Max(1.0).Exclusive()),
	)
}

// Backoff returns min(BaseDelay * ExponentialBase^attempt, MaxDelay).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Delay returns Backoff(attempt) plus jitter in [0, backoff*Jitter).
// rnd must return values in [0, 1).
func (p Policy) Delay(attempt int, rnd func() float64) time.Duration {
	delay := p.Backoff(attempt)
	if p.Jitter <= 0 || rnd == nil {
		return delay
	}
	return delay + time.Duration(float64(delay)*p.Jitter*rnd())
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Attempts returns how many attempts produced err. Errors that did not go
// through retries count as a single attempt.
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 1
}

// Executor runs operations under a retry policy.
type Executor struct {
	policy   Policy
	classify func(error) Severity
	sleep    func(ctx context.Context, d time.Duration) error
	rand     func() float64
	log      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier replaces the default classifier.
func WithClassifier(fn func(error) Severity) Option {
	return func(e *Executor) { e.classify = fn }
}

// WithSleep replaces the suspension between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithRand replaces the jitter source.
func WithRand(fn func() float64) Option {
	return func(e *Executor) { e.rand = fn }
}

// WithLogger sets the logger used to report retries.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an executor for the given policy.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:   policy,
		classify: Classify,
		sleep:    sleepContext,
		rand:     rand.Float64,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's retry policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs fn until it succeeds, fails with a Fatal error, or the policy's
// retries are exhausted. A Fatal error is returned as is.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		severity := e.classify(err)
		if severity == Fatal {
			e.log.Error("Operation failed with fatal error",
				"op", op,
				"attempt", attempt+1,
				"error", err,
			)
			return err
		}

		if attempt >= e.policy.MaxRetries {
			e.log.Warn("Retries exhausted",
				"op", op,
				"attempts", attempt+1,
				"severity", severity.String(),
				"error", err,
			)
			return &ExhaustedError{Op: op, Attempts: attempt + 1, Err: err}
		}

		delay := e.policy.Delay(attempt, e.rand)
		metrics.RetriesTotal.WithLabelValues(op, severity.String()).Inc()
		e.log.Warn("Retrying operation",
			"op", op,
			"attempt", attempt+1,
			"max_retries", e.policy.MaxRetries,
			"delay", delay,
			"severity", severity.String(),
			"error", err,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Execute runs fn through e and returns its value.
func Execute[T any](
	ctx context.Context,
	e *Executor,
	op string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var result T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
