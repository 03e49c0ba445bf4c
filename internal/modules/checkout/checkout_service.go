package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"weddingpay/internal/models"
	"weddingpay/internal/modules/reconcile"
	"weddingpay/pkg/logger"
	"weddingpay/pkg/payment"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceInterface defines the contract for the wallet checkout service.
type ServiceInterface interface {
	CreateIntent(ctx context.Context, req models.CreateIntentRequest) (*models.PaymentIntent, error)
	StartCheckout(ctx context.Context, userID string, req models.CreateIntentRequest) (*StartResponse, error)
	GetStatus(ctx context.Context, userID, intentID string) (*StatusResponse, error)
	ManualCheck(ctx context.Context, userID, intentID string) (*reconcile.CheckResult, error)
	CancelSession(ctx context.Context, userID, intentID string) error
	ResumeSession(ctx context.Context, userID, intentID string) (*StatusResponse, error)
}

// ReceiptSender emails the payer once a payment settles.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, intent models.PaymentIntent, paid models.SuccessPayload) error
}

// RetryPolicy bounds how often a transient create failure is retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Delay is the exponential backoff before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	return min(p.BaseDelay*time.Duration(1<<(attempt-1)), p.MaxDelay)
}

// StartResponse is returned to the client after a checkout is opened.
type StartResponse struct {
	Intent   *models.PaymentIntent `json:"intent"`
	Checkout Checkout              `json:"checkout"`
	State    models.SessionState   `json:"state"`
}

// StatusResponse reports where an intent's reconciliation stands.
type StatusResponse struct {
	IntentID    string                `json:"intent_id"`
	Intent      *models.PaymentIntent `json:"intent,omitempty"`
	State       models.SessionState   `json:"state"`
	Attempt     int                   `json:"attempt"`
	MaxAttempts int                   `json:"max_attempts"`
	Live        bool                  `json:"live"`
	Cancelled   bool                  `json:"cancelled"`
	Outcome     *models.Outcome       `json:"outcome,omitempty"`
}

// Service implements the wallet checkout flow: create the intent, persist it, hand
// it to the launcher and keep a reconciliation session running until it settles.
type Service struct {
	provider   payment.Provider
	repo       RepositoryInterface
	reconciler reconcile.ServiceInterface
	receipts   ReceiptSender
	launcher   *Launcher
	validate   *validator.Validate
	bounds     payment.AmountBounds
	retry      RetryPolicy
	logger     *zap.Logger

	// sleep waits between create retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a new checkout service. receipts may be nil.
func NewService(provider payment.Provider, repo RepositoryInterface, reconciler reconcile.ServiceInterface, receipts ReceiptSender, bounds payment.AmountBounds, retry RetryPolicy, log *zap.Logger) *Service {
	return &Service{
		provider:   provider,
		repo:       repo,
		reconciler: reconciler,
		receipts:   receipts,
		launcher:   NewLauncher(),
		validate:   validator.New(),
		bounds:     bounds,
		retry:      retry,
		logger:     logger.OrNop(log).Named("checkout"),
		sleep:      sleepContext,
	}
}

// CreateIntent validates the request, normalizes the amount and creates the source
// at the provider. Validation and permanent provider errors are returned as-is;
// transient ones are retried with backoff under a single idempotency key.
func (s *Service) CreateIntent(ctx context.Context, req models.CreateIntentRequest) (*models.PaymentIntent, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationFromValidator(err)
	}

	amountMinor, err := payment.ParseAndNormalize(req.Amount, req.Currency, s.bounds)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.BookingID != "" {
		metadata["booking_id"] = req.BookingID
	}

	sourceReq := payment.SourceRequest{
		WalletType:     req.WalletType,
		AmountMinor:    amountMinor,
		Currency:       req.Currency,
		Description:    req.Description,
		Redirect:       req.Redirect,
		Billing:        req.Billing,
		Metadata:       metadata,
		IdempotencyKey: uuid.NewString(),
	}

	src, err := s.createWithRetry(ctx, sourceReq)
	if err != nil {
		return nil, fmt.Errorf("service.CreateIntent: %w", err)
	}

	return &models.PaymentIntent{
		ID:          src.ID,
		WalletType:  req.WalletType,
		AmountMinor: amountMinor,
		Currency:    req.Currency,
		Description: req.Description,
		Redirect:    req.Redirect,
		Billing:     req.Billing,
		CheckoutURL: src.CheckoutURL,
		Status:      src.Status,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *Service) createWithRetry(ctx context.Context, req payment.SourceRequest) (*payment.Source, error) {
	for attempt := 0; ; attempt++ {
		src, err := s.provider.CreateSource(ctx, req)
		if err == nil {
			return src, nil
		}
		if !models.IsTransient(err) || attempt >= s.retry.MaxRetries {
			return nil, err
		}

		delay := s.retry.Delay(attempt + 1)
		s.logger.Warn("create source failed, retrying",
			zap.Int("retry", attempt+1),
			zap.Duration("delay", delay),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// StartCheckout creates the intent, records it for userID, and starts reconciliation.
func (s *Service) StartCheckout(ctx context.Context, userID string, req models.CreateIntentRequest) (*StartResponse, error) {
	intent, err := s.CreateIntent(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveIntent(ctx, userID, req.BookingID, intent); err != nil {
		return nil, fmt.Errorf("service.StartCheckout: %w", err)
	}

	if _, err := s.reconciler.StartReconciliation(*intent, s.callbacksFor(*intent)); err != nil {
		return nil, fmt.Errorf("service.StartCheckout: %w", err)
	}

	s.logger.Info("wallet checkout opened",
		zap.String("intent_id", intent.ID),
		zap.String("user_id", userID),
		zap.String("wallet", string(intent.WalletType)),
		zap.Bool("hosted", intent.CheckoutURL != ""),
	)

	return &StartResponse{
		Intent:   intent,
		Checkout: s.launcher.Launch(*intent),
		State:    models.StatePending,
	}, nil
}

// callbacksFor persists the outcome and sends the receipt. Callbacks run on the
// session's goroutine after the request that started it has returned.
func (s *Service) callbacksFor(intent models.PaymentIntent) reconcile.Callbacks {
	record := func(outcome models.Outcome) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		outcome.IntentID = intent.ID
		outcome.SettledAt = time.Now().UTC()
		if err := s.repo.SaveOutcome(ctx, outcome); err != nil {
			s.logger.Error("failed to persist reconciliation outcome",
				zap.String("intent_id", intent.ID),
				zap.String("state", string(outcome.State)),
				zap.Error(err),
			)
		}
	}

	return reconcile.Callbacks{
		OnSuccess: func(paid models.SuccessPayload) {
			record(models.Outcome{State: models.StateSucceeded, Success: &paid})
			if s.receipts == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.receipts.SendReceipt(ctx, intent, paid); err != nil {
				s.logger.Warn("failed to send receipt", zap.String("intent_id", intent.ID), zap.Error(err))
			}
		},
		OnFailure: func(reason string) {
			record(models.Outcome{State: models.StateFailed, Reason: reason})
		},
		OnTimeout: func(err error) {
			record(models.Outcome{State: models.StateTimedOut, Reason: err.Error(), Err: err})
		},
	}
}

// GetStatus returns the live session state, or the persisted outcome once the
// session has been pruned.
func (s *Service) GetStatus(ctx context.Context, userID, intentID string) (*StatusResponse, error) {
	if err := s.authorize(ctx, userID, intentID); err != nil {
		return nil, err
	}

	intent, err := s.repo.FindIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("service.GetStatus: %w", err)
	}

	snap, err := s.reconciler.Snapshot(intentID)
	if err == nil {
		return &StatusResponse{
			IntentID:    snap.IntentID,
			Intent:      intent,
			State:       snap.State,
			Attempt:     snap.Attempt,
			MaxAttempts: snap.MaxAttempts,
			Live:        !snap.Cancelled && !snap.State.Terminal(),
			Cancelled:   snap.Cancelled,
			Outcome:     snap.Outcome,
		}, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("service.GetStatus: %w", err)
	}

	outcome, err := s.repo.FindOutcome(ctx, intentID)
	if errors.Is(err, models.ErrNotFound) {
		return &StatusResponse{IntentID: intentID, Intent: intent, State: models.StatePending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service.GetStatus: %w", err)
	}
	return &StatusResponse{IntentID: intentID, Intent: intent, State: outcome.State, Outcome: outcome}, nil
}

// ManualCheck runs a single on-demand check for the user's intent.
func (s *Service) ManualCheck(ctx context.Context, userID, intentID string) (*reconcile.CheckResult, error) {
	if err := s.authorize(ctx, userID, intentID); err != nil {
		return nil, err
	}

	res, err := s.reconciler.ManualCheck(ctx, intentID)
	if err == nil {
		return &res, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	outcome, findErr := s.repo.FindOutcome(ctx, intentID)
	if findErr != nil {
		return nil, fmt.Errorf("service.ManualCheck: %w", findErr)
	}
	return &reconcile.CheckResult{
		Matched: outcome.State == models.StateSucceeded || outcome.State == models.StateFailed,
		State:   outcome.State,
		Outcome: outcome,
	}, nil
}

// CancelSession stops polling for the user's intent. A session that is already
// gone counts as cancelled.
func (s *Service) CancelSession(ctx context.Context, userID, intentID string) error {
	if err := s.authorize(ctx, userID, intentID); err != nil {
		return err
	}
	if err := s.reconciler.Cancel(intentID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("service.CancelSession: %w", err)
	}
	return nil
}

// ResumeSession starts a fresh reconciliation session for an intent whose previous
// session was cancelled or lost on restart. Settled intents cannot be resumed.
func (s *Service) ResumeSession(ctx context.Context, userID, intentID string) (*StatusResponse, error) {
	if err := s.authorize(ctx, userID, intentID); err != nil {
		return nil, err
	}

	if outcome, err := s.repo.FindOutcome(ctx, intentID); err == nil {
		return nil, fmt.Errorf("service.ResumeSession: %w: intent already %s", models.ErrSessionExists, outcome.State)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("service.ResumeSession: %w", err)
	}

	intent, err := s.repo.FindIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("service.ResumeSession: %w", err)
	}

	session, err := s.reconciler.StartReconciliation(*intent, s.callbacksFor(*intent))
	if err != nil {
		return nil, fmt.Errorf("service.ResumeSession: %w", err)
	}
	snap := session.Snapshot()
	s.logger.Info("reconciliation resumed", zap.String("intent_id", intentID), zap.String("user_id", userID))

	return &StatusResponse{
		IntentID:    intentID,
		Intent:      intent,
		State:       snap.State,
		MaxAttempts: snap.MaxAttempts,
		Live:        true,
	}, nil
}

// authorize makes sure the intent belongs to userID. It returns ErrNotFound for
// someone else's intent to avoid leaking its existence.
func (s *Service) authorize(ctx context.Context, userID, intentID string) error {
	owner, err := s.repo.FindIntentOwner(ctx, intentID)
	if err != nil {
		return err
	}
	if owner != userID {
		return models.ErrNotFound
	}
	return nil
}

func validationFromValidator(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &models.ValidationError{Field: fe.Namespace(), Reason: fmt.Sprintf("failed on %q", fe.Tag())}
	}
	return &models.ValidationError{Reason: err.Error()}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
