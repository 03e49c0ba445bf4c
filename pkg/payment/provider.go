package payment

import (
	"context"

	"weddingpay/internal/models"
)

// Provider defines the contract for the external payment gateway.
// Implementations attach credentials themselves; callers never see them.
type Provider interface {
	CreateSource(ctx context.Context, req SourceRequest) (*Source, error)
	ListPayments(ctx context.Context, limit int) ([]models.PaymentRecord, error)
}

// SourceRequest carries everything the provider needs to open a wallet source.
type SourceRequest struct {
	WalletType     models.WalletType
	AmountMinor    int64
	Currency       string
	Description    string
	Redirect       models.RedirectTargets
	Billing        models.BillingIdentity
	Metadata       map[string]string
	IdempotencyKey string
}

// Source is the provider's answer to CreateSource. An empty CheckoutURL means the
// wallet has no hosted checkout and the user must pay manually.
type Source struct {
	ID          string
	CheckoutURL string
	Status      string
}
