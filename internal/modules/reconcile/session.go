package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"weddingpay/internal/models"
	"weddingpay/pkg/payment"

	"go.uber.org/zap"
)

// Callbacks receive the outcome of a session. Exactly one of them is called, once.
type Callbacks struct {
	OnSuccess func(models.SuccessPayload)
	OnFailure func(reason string)
	// OnTimeout receives ErrNoMatchTimeout, or ErrProviderUnreachable when the
	// session gave up after consecutive transport errors.
	OnTimeout func(err error)
}

// PollConfig is the tick cadence and budget of a session.
type PollConfig struct {
	Interval             time.Duration
	MaxAttempts          int
	FetchLimit           int
	MaxConsecutiveErrors int
}

// DefaultPollConfig polls every 5s for 10 minutes.
var DefaultPollConfig = PollConfig{
	Interval:             5 * time.Second,
	MaxAttempts:          120,
	FetchLimit:           20,
	MaxConsecutiveErrors: 3,
}

// CheckResult is returned by a manual check.
type CheckResult struct {
	Matched bool                  `json:"matched"`
	State   models.SessionState   `json:"state"`
	Outcome *models.Outcome       `json:"outcome,omitempty"`
	Record  *models.PaymentRecord `json:"record,omitempty"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	IntentID    string              `json:"intent_id"`
	State       models.SessionState `json:"state"`
	Attempt     int                 `json:"attempt"`
	MaxAttempts int                 `json:"max_attempts"`
	Cancelled   bool                `json:"cancelled"`
	StartedAt   time.Time           `json:"started_at"`
	Outcome     *models.Outcome     `json:"outcome,omitempty"`
}

// Session reconciles one payment intent against the provider's payment feed.
//
// All state changes go through mu. A fetch runs without the lock; its result is only
// applied if the generation captured before the fetch is still current, so a
// response that lands after Cancel or after another path settled the session is dropped.
type Session struct {
	intent    models.PaymentIntent
	provider  payment.Provider
	matcher   Matcher
	cfg       PollConfig
	callbacks Callbacks
	logger    *zap.Logger
	now       func() time.Time

	mu                sync.Mutex
	state             models.SessionState
	attempt           int
	consecutiveErrors int
	generation        uint64
	cancelled         bool
	closedAt          time.Time
	startedAt         time.Time
	outcome           *models.Outcome

	terminalInvoked atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(parent context.Context, intent models.PaymentIntent, provider payment.Provider, matcher Matcher, cfg PollConfig, cb Callbacks, logger *zap.Logger, now func() time.Time) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		intent:    intent,
		provider:  provider,
		matcher:   matcher,
		cfg:       cfg,
		callbacks: cb,
		logger:    logger.With(zap.String("intent_id", intent.ID), zap.String("wallet", string(intent.WalletType))),
		now:       now,
		state:     models.StatePending,
		startedAt: now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// IntentID is the only handle a session is addressed by.
func (s *Session) IntentID() string { return s.intent.ID }

// Done is closed once the tick loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// TerminalInvoked reports whether the outcome callback has been fired.
func (s *Session) TerminalInvoked() bool { return s.terminalInvoked.Load() }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		IntentID:    s.intent.ID,
		State:       s.state,
		Attempt:     s.attempt,
		MaxAttempts: s.cfg.MaxAttempts,
		Cancelled:   s.cancelled,
		StartedAt:   s.startedAt,
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// run drives the scheduled ticks. The next tick is armed only after the current one
// has finished, so ticks of one session never overlap.
func (s *Session) run() {
	defer close(s.done)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		if !s.tick() {
			return
		}
		timer.Reset(s.cfg.Interval)
	}
}

// tick performs one scheduled poll and reports whether another should be scheduled.
func (s *Session) tick() bool {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return false
	}
	gen := s.generation
	tickNo := s.attempt + 1
	s.mu.Unlock()

	records, err := s.provider.ListPayments(s.ctx, s.cfg.FetchLimit)
	var match Match
	if err == nil {
		match = s.matcher.Find(s.intent, records)
		s.logMatch(match, "tick", tickNo)
	}

	s.mu.Lock()
	if s.closedLocked() || gen != s.generation {
		s.mu.Unlock()
		return false
	}

	if err != nil {
		s.attempt++
		s.consecutiveErrors++
		s.logger.Warn("payment feed fetch failed",
			zap.Int("attempt", s.attempt),
			zap.Int("consecutive_errors", s.consecutiveErrors),
			zap.Bool("transient", models.IsTransient(err)),
			zap.Error(err),
		)
		if s.consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
			fire := s.settleLocked(s.timeoutOutcome(fmt.Errorf("%w: %d consecutive fetch errors, last: %v", models.ErrProviderUnreachable, s.consecutiveErrors, err)))
			s.mu.Unlock()
			fire()
			return false
		}
		return s.afterMissLocked()
	}
	s.consecutiveErrors = 0

	if outcome, ok := s.terminalOutcome(match); ok {
		fire := s.settleLocked(outcome)
		s.mu.Unlock()
		fire()
		return false
	}

	s.attempt++
	return s.afterMissLocked()
}

// afterMissLocked closes the session once the attempt budget is spent. It unlocks mu.
func (s *Session) afterMissLocked() bool {
	if s.attempt >= s.cfg.MaxAttempts {
		fire := s.settleLocked(s.timeoutOutcome(models.ErrNoMatchTimeout))
		s.mu.Unlock()
		fire()
		return false
	}
	s.logger.Debug("no terminal payment yet", zap.Int("attempt", s.attempt), zap.Int("max_attempts", s.cfg.MaxAttempts))
	s.mu.Unlock()
	return true
}

// CheckNow runs one fetch and match outside the tick cadence. It does not consume
// the attempt budget. On a closed session it returns the cached result without
// calling the provider.
func (s *Session) CheckNow(ctx context.Context) (CheckResult, error) {
	s.mu.Lock()
	if s.state.Terminal() {
		res := s.cachedLocked()
		s.mu.Unlock()
		return res, nil
	}
	if s.cancelled {
		s.mu.Unlock()
		return CheckResult{State: models.StatePending}, models.ErrSessionCancelled
	}
	gen := s.generation
	s.mu.Unlock()

	records, err := s.provider.ListPayments(ctx, s.cfg.FetchLimit)
	var match Match
	if err == nil {
		match = s.matcher.Find(s.intent, records)
		s.logMatch(match, "manual", 0)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		res := s.cachedLocked()
		s.mu.Unlock()
		return res, nil
	}
	if s.cancelled || gen != s.generation {
		s.mu.Unlock()
		return CheckResult{State: models.StatePending}, models.ErrSessionCancelled
	}
	if err != nil {
		s.mu.Unlock()
		return CheckResult{State: models.StatePending}, fmt.Errorf("Session.CheckNow: %w", err)
	}

	if outcome, ok := s.terminalOutcome(match); ok {
		fire := s.settleLocked(outcome)
		res := s.cachedLocked()
		s.mu.Unlock()
		fire()
		return res, nil
	}
	s.mu.Unlock()

	return CheckResult{Matched: match.Record != nil, State: models.StatePending, Record: match.Record}, nil
}

// Cancel stops the session without firing any callback. It is idempotent and a
// no-op on a session that already reached a terminal state.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	s.generation++
	s.closedAt = s.now()
	s.mu.Unlock()

	s.cancel()
	s.logger.Info("reconciliation cancelled")
	return true
}

func (s *Session) closedLocked() bool {
	return s.cancelled || s.state.Terminal()
}

// settleLocked is the single mutation point into a terminal state. It must be called
// with mu held and returns the callback to run after mu is released.
func (s *Session) settleLocked(outcome models.Outcome) func() {
	if s.closedLocked() || !s.terminalInvoked.CompareAndSwap(false, true) {
		return func() {}
	}
	outcome.IntentID = s.intent.ID
	outcome.SettledAt = s.now()
	s.state = outcome.State
	s.outcome = &outcome
	s.closedAt = outcome.SettledAt
	s.generation++
	s.cancel()

	s.logger.Info("reconciliation settled",
		zap.String("state", string(outcome.State)),
		zap.Int("attempt", s.attempt),
		zap.String("reason", outcome.Reason),
	)

	cb := s.callbacks
	return func() {
		switch outcome.State {
		case models.StateSucceeded:
			if cb.OnSuccess != nil {
				cb.OnSuccess(*outcome.Success)
			}
		case models.StateFailed:
			if cb.OnFailure != nil {
				cb.OnFailure(outcome.Reason)
			}
		case models.StateTimedOut:
			if cb.OnTimeout != nil {
				cb.OnTimeout(outcome.Err)
			}
		}
	}
}

func (s *Session) cachedLocked() CheckResult {
	res := CheckResult{State: s.state}
	if s.outcome != nil {
		o := *s.outcome
		res.Outcome = &o
		res.Matched = o.State == models.StateSucceeded || o.State == models.StateFailed
	}
	return res
}

func (s *Session) terminalOutcome(m Match) (models.Outcome, bool) {
	if m.Record == nil {
		return models.Outcome{}, false
	}
	rec := m.Record
	switch rec.Status {
	case models.PaymentPaid:
		return models.Outcome{
			State: models.StateSucceeded,
			Success: &models.SuccessPayload{
				SourceID:          s.intent.ID,
				PaymentID:         rec.ID,
				AmountMinor:       rec.AmountMinor,
				Currency:          rec.Currency,
				Method:            s.intent.WalletType,
				ExternalReference: rec.ExternalReference,
			},
		}, true
	case models.PaymentFailed:
		reason := rec.FailureReason
		if reason == "" {
			reason = "payment failed at provider"
		}
		return models.Outcome{State: models.StateFailed, Reason: reason}, true
	default:
		return models.Outcome{}, false
	}
}

func (s *Session) timeoutOutcome(err error) models.Outcome {
	return models.Outcome{State: models.StateTimedOut, Reason: err.Error(), Err: err}
}

func (s *Session) logMatch(m Match, source string, tick int) {
	if m.Record == nil {
		return
	}
	fields := []zap.Field{
		zap.String("source", source),
		zap.String("payment_id", m.Record.ID),
		zap.String("strength", m.Strength.String()),
		zap.String("status", string(m.Record.Status)),
	}
	if tick > 0 {
		fields = append(fields, zap.Int("tick", tick))
	}
	if m.Ambiguous {
		s.logger.Warn("several payments strongly match the intent, using the newest",
			append(fields, zap.Int("strong_matches", m.Strong), zap.Error(models.ErrAmbiguousMatch))...)
		return
	}
	if m.Strength == WeakMatch {
		s.logger.Warn("payment matched on description and amount only", fields...)
		return
	}
	s.logger.Debug("payment matched", fields...)
}
