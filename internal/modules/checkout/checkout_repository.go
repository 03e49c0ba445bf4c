package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"weddingpay/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for the checkout repository.
type RepositoryInterface interface {
	SaveIntent(ctx context.Context, userID, bookingID string, intent *models.PaymentIntent) error
	FindIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error)
	FindIntentOwner(ctx context.Context, intentID string) (string, error)
	// SaveOutcome is write-once: the first outcome stored for an intent wins.
	SaveOutcome(ctx context.Context, outcome models.Outcome) error
	FindOutcome(ctx context.Context, intentID string) (*models.Outcome, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	booking_id       TEXT,
	wallet_type      TEXT NOT NULL,
	amount_minor     BIGINT NOT NULL,
	currency         TEXT NOT NULL,
	description      TEXT NOT NULL,
	checkout_url     TEXT,
	status           TEXT,
	redirect_success TEXT NOT NULL,
	redirect_failure TEXT NOT NULL,
	billing_name     TEXT NOT NULL,
	billing_email    TEXT NOT NULL,
	billing_phone    TEXT NOT NULL,
	metadata         JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reconciliation_outcomes (
	intent_id          TEXT PRIMARY KEY REFERENCES payment_intents(id),
	state              TEXT NOT NULL,
	payment_id         TEXT,
	amount_minor       BIGINT,
	currency           TEXT,
	method             TEXT,
	external_reference TEXT,
	reason             TEXT,
	settled_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS payment_intents_user_id_idx ON payment_intents (user_id, created_at DESC);
`

// Repository implements the RepositoryInterface on Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new checkout repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the checkout tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("repository.EnsureSchema: %w", err)
	}
	return nil
}

// SaveIntent inserts a newly created intent owned by userID.
func (r *Repository) SaveIntent(ctx context.Context, userID, bookingID string, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (id, user_id, booking_id, wallet_type, amount_minor, currency, description, checkout_url, status,
			redirect_success, redirect_failure, billing_name, billing_email, billing_phone, metadata, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15, $16)`

	metadata := intent.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.db.Exec(ctx, query,
		intent.ID, userID, bookingID, string(intent.WalletType), intent.AmountMinor, intent.Currency, intent.Description,
		intent.CheckoutURL, intent.Status, intent.Redirect.Success, intent.Redirect.Failure,
		intent.Billing.Name, intent.Billing.Email, intent.Billing.Phone, metadata, intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.SaveIntent: %w", err)
	}
	return nil
}

// FindIntent retrieves a single intent by its ID.
func (r *Repository) FindIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	query := `
		SELECT id, wallet_type, amount_minor, currency, description, checkout_url, status, redirect_success, redirect_failure,
			billing_name, billing_email, billing_phone, metadata, created_at
		FROM payment_intents
		WHERE id = $1`

	var intent models.PaymentIntent
	var wallet string
	var checkoutURL, status sql.NullString
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&intent.ID,
		&wallet,
		&intent.AmountMinor,
		&intent.Currency,
		&intent.Description,
		&checkoutURL,
		&status,
		&intent.Redirect.Success,
		&intent.Redirect.Failure,
		&intent.Billing.Name,
		&intent.Billing.Email,
		&intent.Billing.Phone,
		&intent.Metadata,
		&intent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.FindIntent: %w", err)
	}
	intent.WalletType = models.WalletType(wallet)
	intent.CheckoutURL = checkoutURL.String
	intent.Status = status.String
	return &intent, nil
}

// FindIntentOwner returns the user that opened the intent.
func (r *Repository) FindIntentOwner(ctx context.Context, intentID string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx, `SELECT user_id FROM payment_intents WHERE id = $1`, intentID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("repository.FindIntentOwner: %w", err)
	}
	return userID, nil
}

// SaveOutcome stores the terminal outcome of an intent. A second outcome for the
// same intent is ignored.
func (r *Repository) SaveOutcome(ctx context.Context, outcome models.Outcome) error {
	query := `
		INSERT INTO reconciliation_outcomes (intent_id, state, payment_id, amount_minor, currency, method, external_reference, reason, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (intent_id) DO NOTHING`

	var paymentID, currency, method, extRef sql.NullString
	var amount sql.NullInt64
	if p := outcome.Success; p != nil {
		paymentID = sql.NullString{String: p.PaymentID, Valid: true}
		amount = sql.NullInt64{Int64: p.AmountMinor, Valid: true}
		currency = sql.NullString{String: p.Currency, Valid: true}
		method = sql.NullString{String: string(p.Method), Valid: true}
		extRef = sql.NullString{String: p.ExternalReference, Valid: p.ExternalReference != ""}
	}

	_, err := r.db.Exec(ctx, query,
		outcome.IntentID, string(outcome.State), paymentID, amount, currency, method, extRef, outcome.Reason, outcome.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("repository.SaveOutcome: %w", err)
	}
	return nil
}

// FindOutcome retrieves the stored outcome of an intent.
func (r *Repository) FindOutcome(ctx context.Context, intentID string) (*models.Outcome, error) {
	query := `
		SELECT intent_id, state, payment_id, amount_minor, currency, method, external_reference, reason, settled_at
		FROM reconciliation_outcomes
		WHERE intent_id = $1`

	var outcome models.Outcome
	var state string
	var paymentID, currency, method, extRef, reason sql.NullString
	var amount sql.NullInt64
	err := r.db.QueryRow(ctx, query, intentID).Scan(
		&outcome.IntentID, &state, &paymentID, &amount, &currency, &method, &extRef, &reason, &outcome.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.FindOutcome: %w", err)
	}

	outcome.State = models.SessionState(state)
	outcome.Reason = reason.String
	if paymentID.Valid {
		outcome.Success = &models.SuccessPayload{
			SourceID:          outcome.IntentID,
			PaymentID:         paymentID.String,
			AmountMinor:       amount.Int64,
			Currency:          currency.String,
			Method:            models.WalletType(method.String),
			ExternalReference: extRef.String,
		}
	}
	return &outcome, nil
}
