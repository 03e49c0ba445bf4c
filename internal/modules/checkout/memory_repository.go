package checkout

import (
	"context"
	"sync"

	"weddingpay/internal/models"
)

// MemoryRepository keeps intents and outcomes in process. Used when no database is
// configured and in tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	intents  map[string]models.PaymentIntent
	owners   map[string]string
	outcomes map[string]models.Outcome
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		intents:  make(map[string]models.PaymentIntent),
		owners:   make(map[string]string),
		outcomes: make(map[string]models.Outcome),
	}
}

func (r *MemoryRepository) SaveIntent(ctx context.Context, userID, bookingID string, intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intents[intent.ID]; ok {
		return models.ErrSessionExists
	}
	r.intents[intent.ID] = *intent
	r.owners[intent.ID] = userID
	return nil
}

func (r *MemoryRepository) FindIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	intent, ok := r.intents[intentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &intent, nil
}

func (r *MemoryRepository) FindIntentOwner(ctx context.Context, intentID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[intentID]
	if !ok {
		return "", models.ErrNotFound
	}
	return owner, nil
}

func (r *MemoryRepository) SaveOutcome(ctx context.Context, outcome models.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outcomes[outcome.IntentID]; ok {
		return nil
	}
	r.outcomes[outcome.IntentID] = outcome
	return nil
}

func (r *MemoryRepository) FindOutcome(ctx context.Context, intentID string) (*models.Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	outcome, ok := r.outcomes[intentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &outcome, nil
}
