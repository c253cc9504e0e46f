package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"fwupdate/pkg/metrics"
)

type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	ReadyToTrip func(counts gobreaker.Counts) bool
	// IsSuccessful decides which errors count as failures. Nil counts every
	// error except the caller's own cancellation.
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig trips once half of at least three calls in a minute failed.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: TripOnRatio(3, 0.5),
	}
}

// TripOnRatio opens the breaker once at least minRequests were seen and the
// failure ratio reached ratio.
func TripOnRatio(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests == 0 || counts.Requests < minRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
}

// IsOpenError reports whether err was returned because the breaker refused
// the call.
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Breaker guards calls to one remote dependency and exports its state as
// metrics.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(cfg Config) *Breaker {
	isSuccessful := cfg.IsSuccessful
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return isSuccessful != nil && isSuccessful(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			setStateMetric(name, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	setStateMetric(cfg.Name, cb.State())
	return &Breaker{cb: cb}
}

// Do runs fn unless ctx is already done or the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	b.record(err)
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Name() string {
	return b.cb.Name()
}

func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func setStateMetric(name string, state gobreaker.State) {
	value := 0.0
	switch state {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(value)
}

func (b *Breaker) record(err error) {
	metrics.CircuitBreakerRequests.WithLabelValues(b.cb.Name(), b.cb.State().String()).Inc()
	if err != nil && !IsOpenError(err) {
		metrics.CircuitBreakerFailures.WithLabelValues(b.cb.Name()).Inc()
	}
}
