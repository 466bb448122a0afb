// Package reliability governs automation executions that consume credits:
// per-operation circuit breakers, a scheduled retry queue with a dead-letter
// queue, and a runner that guarantees every reservation session it opens is
// resolved.
package reliability

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is tripped and operations are blocked.
	StateOpen
	// StateHalfOpen means the circuit is testing if the operation has recovered.
	StateHalfOpen
)

// String returns the state as a string.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close from half-open.
	SuccessThreshold int
	// InitialBackoff is the initial backoff duration after opening.
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor to multiply backoff by after each
	// failed half-open probe.
	BackoffMultiplier float64
}

// DefaultBreakerConfig returns sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		SuccessThreshold:  2,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Breaker implements the circuit breaker pattern for one operation type.
type Breaker struct {
	mu sync.RWMutex

	config BreakerConfig
	state  State
	name   string
	logger *slog.Logger

	consecutiveFailures  int
	consecutiveSuccesses int
	lastError            error

	currentBackoff        time.Duration
	openedAt              time.Time
	halfOpenProbeInFlight bool

	// forced marks a breaker opened by Trip. It never half-opens on its
	// own; only Reset clears it.
	forced       bool
	forcedReason string

	totalFailures  int64
	totalSuccesses int64
	totalTrips     int64
}

// NewBreaker creates a new circuit breaker with the given configuration.
func NewBreaker(name string, config BreakerConfig, logger *slog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		config:         config,
		state:          StateClosed,
		name:           name,
		logger:         logger,
		currentBackoff: config.InitialBackoff,
	}
}

// Allow checks if an operation should be allowed. It may transition an open
// breaker to half-open when the backoff has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.forced {
			return false
		}
		if time.Since(b.openedAt) >= b.currentBackoff {
			b.state = StateHalfOpen
			b.halfOpenProbeInFlight = true
			b.logger.Info("circuit breaker half-open for probe", "breaker", b.name)
			return true
		}
		return false

	case StateHalfOpen:
		// Allow one test operation at a time
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true

	default:
		return true
	}
}

// RecordSuccess records a successful operation.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	b.totalSuccesses++

	if b.state == StateHalfOpen {
		b.halfOpenProbeInFlight = false
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.currentBackoff = b.config.InitialBackoff
			b.logger.Info("circuit breaker recovered and closed", "breaker", b.name)
		}
	}
}

// RecordFailure records a failed operation.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastError = err
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.totalFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.trip(err)
		}

	case StateHalfOpen:
		// Single failure in half-open returns to open with increased backoff
		b.halfOpenProbeInFlight = false
		b.currentBackoff = time.Duration(float64(b.currentBackoff) * b.config.BackoffMultiplier)
		if b.currentBackoff > b.config.MaxBackoff {
			b.currentBackoff = b.config.MaxBackoff
		}
		b.trip(err)
	}
}

func (b *Breaker) trip(err error) {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.halfOpenProbeInFlight = false
	b.totalTrips++

	b.logger.Warn("circuit breaker tripped",
		"breaker", b.name,
		"backoff", b.currentBackoff,
		"failures", b.consecutiveFailures,
		"error", err,
	)
}

// Trip forces the breaker open until Reset. Used when an external signal,
// like a balance-drift finding, must suspend the operation regardless of
// recent success.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateOpen
	b.openedAt = time.Now()
	b.halfOpenProbeInFlight = false
	b.forced = true
	b.forcedReason = reason
	b.totalTrips++

	b.logger.Warn("circuit breaker forced open", "breaker", b.name, "reason", reason)
}

// Reset resets the circuit breaker to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.currentBackoff = b.config.InitialBackoff
	b.lastError = nil
	b.halfOpenProbeInFlight = false
	b.forced = false
	b.forcedReason = ""

	b.logger.Info("circuit breaker reset", "breaker", b.name)
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen returns true if the circuit is open (blocking operations).
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateOpen
}

// Status is a point-in-time summary of a breaker.
type Status struct {
	Name                 string        `json:"name"`
	State                string        `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastError            string        `json:"last_error,omitempty"`
	CurrentBackoff       time.Duration `json:"current_backoff_ms"`
	Forced               bool          `json:"forced,omitempty"`
	ForcedReason         string        `json:"forced_reason,omitempty"`
	TotalFailures        int64         `json:"total_failures"`
	TotalSuccesses       int64         `json:"total_successes"`
	TotalTrips           int64         `json:"total_trips"`
}

// GetStatus returns the current status of the circuit breaker.
func (b *Breaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := Status{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		CurrentBackoff:       b.currentBackoff,
		Forced:               b.forced,
		ForcedReason:         b.forcedReason,
		TotalFailures:        b.totalFailures,
		TotalSuccesses:       b.totalSuccesses,
		TotalTrips:           b.totalTrips,
	}
	if b.lastError != nil {
		status.LastError = b.lastError.Error()
	}
	return status
}

// BreakerSet lazily creates one breaker per key. Keys are operation types in
// the runner, and tenant IDs when the set gates spending for the engine.
type BreakerSet struct {
	mu       sync.Mutex
	config   BreakerConfig
	logger   *slog.Logger
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set sharing one config.
func NewBreakerSet(config BreakerConfig, logger *slog.Logger) *BreakerSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerSet{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a key, creating it closed on first use.
func (s *BreakerSet) For(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(key, s.config, s.logger)
		s.breakers[key] = b
	}
	return b
}

// Allow reports whether operations for the key may proceed. Satisfies the
// engine's BreakerTripper.
func (s *BreakerSet) Allow(key string) bool {
	return s.For(key).Allow()
}

// Trip forces the key's breaker open. Satisfies the engine's BreakerTripper.
func (s *BreakerSet) Trip(key string, reason string) {
	s.For(key).Trip(reason)
}

// Reset closes the key's breaker.
func (s *BreakerSet) Reset(key string) {
	s.For(key).Reset()
}

// Statuses returns the status of every breaker in the set.
func (s *BreakerSet) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.GetStatus())
	}
	return out
}
