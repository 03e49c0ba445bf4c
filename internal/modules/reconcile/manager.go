package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weddingpay/internal/models"
	"weddingpay/pkg/logger"
	"weddingpay/pkg/payment"

	"go.uber.org/zap"
)

// Config tunes every session a Manager starts.
type Config struct {
	Poll           PollConfig
	ToleranceMinor int64
	RequireStrong  bool
	// Retention is how long a closed session is kept so late callers get its cached result.
	Retention time.Duration
}

// ServiceInterface is what the checkout flow needs from the reconciliation engine.
type ServiceInterface interface {
	StartReconciliation(intent models.PaymentIntent, cb Callbacks) (*Session, error)
	ManualCheck(ctx context.Context, intentID string) (CheckResult, error)
	Cancel(intentID string) error
	Snapshot(intentID string) (Snapshot, error)
}

// Manager owns the reconciliation sessions, one per open intent. Sessions share
// no mutable state; the registry map is the only thing guarded here.
type Manager struct {
	provider payment.Provider
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	root     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session registry polling provider.
func NewManager(provider payment.Provider, cfg Config, log *zap.Logger) *Manager {
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = DefaultPollConfig.Interval
	}
	if cfg.Poll.MaxAttempts < 1 {
		cfg.Poll.MaxAttempts = DefaultPollConfig.MaxAttempts
	}
	if cfg.Poll.FetchLimit < 1 {
		cfg.Poll.FetchLimit = DefaultPollConfig.FetchLimit
	}
	if cfg.Poll.MaxConsecutiveErrors < 1 {
		cfg.Poll.MaxConsecutiveErrors = DefaultPollConfig.MaxConsecutiveErrors
	}
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		provider: provider,
		cfg:      cfg,
		logger:   logger.OrNop(log).Named("reconcile"),
		now:      time.Now,
		root:     root,
		stop:     stop,
		sessions: make(map[string]*Session),
	}
}

// StartReconciliation begins polling for intent. A settled intent cannot be polled
// again; a cancelled one can be resumed with a fresh session.
func (m *Manager) StartReconciliation(intent models.PaymentIntent, cb Callbacks) (*Session, error) {
	if intent.ID == "" {
		return nil, &models.ValidationError{Field: "intent.id", Reason: "is required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	if existing, ok := m.sessions[intent.ID]; ok {
		snap := existing.Snapshot()
		if !snap.Cancelled {
			return nil, fmt.Errorf("Manager.StartReconciliation %s: %w", intent.ID, models.ErrSessionExists)
		}
	}

	matcher := Matcher{ToleranceMinor: m.cfg.ToleranceMinor, RequireStrong: m.cfg.RequireStrong}
	s := newSession(m.root, intent, m.provider, matcher, m.cfg.Poll, cb, m.logger, m.now)
	m.sessions[intent.ID] = s
	go s.run()

	m.logger.Info("reconciliation started",
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_minor", intent.AmountMinor),
		zap.Duration("interval", m.cfg.Poll.Interval),
		zap.Int("max_attempts", m.cfg.Poll.MaxAttempts),
	)
	return s, nil
}

// ManualCheck runs an on-demand check for the session of intentID.
func (m *Manager) ManualCheck(ctx context.Context, intentID string) (CheckResult, error) {
	s, err := m.lookup(intentID)
	if err != nil {
		return CheckResult{}, err
	}
	return s.CheckNow(ctx)
}

// Cancel abandons the session of intentID. Cancelling twice, or after the session
// settled, has no effect.
func (m *Manager) Cancel(intentID string) error {
	s, err := m.lookup(intentID)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

func (m *Manager) Snapshot(intentID string) (Snapshot, error) {
	s, err := m.lookup(intentID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Shutdown cancels every open session and waits for their loops to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	m.stop()

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) lookup(intentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[intentID]
	if !ok {
		return nil, fmt.Errorf("reconciliation session %s: %w", intentID, models.ErrNotFound)
	}
	return s, nil
}

// pruneLocked drops sessions that closed longer than Retention ago.
func (m *Manager) pruneLocked() {
	if m.cfg.Retention <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.Retention)
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.closedLocked() && s.closedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
		}
	}
}
