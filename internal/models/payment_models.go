package models

import "time"

// WalletType is the e-wallet a source is created for.
type WalletType string

const (
	WalletGCash   WalletType = "gcash"
	WalletMaya    WalletType = "paymaya"
	WalletGrabPay WalletType = "grab_pay"
)

// PaymentStatus is the provider-side status of a payment record.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// SessionState is the reconciliation state of an open intent.
// Succeeded, Failed and TimedOut are absorbing.
type SessionState string

const (
	StatePending   SessionState = "Pending"
	StateSucceeded SessionState = "Succeeded"
	StateFailed    SessionState = "Failed"
	StateTimedOut  SessionState = "TimedOut"
)

// Terminal reports whether no further transition can happen from s.
func (s SessionState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// RedirectTargets are the URLs the wallet checkout returns the user to.
type RedirectTargets struct {
	Success string `json:"success" validate:"required,url"`
	Failure string `json:"failure" validate:"required,url"`
}

// BillingIdentity identifies the payer to the provider.
type BillingIdentity struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required,e164"`
}

// PaymentIntent ("source") is immutable once created.
type PaymentIntent struct {
	ID          string            `json:"id"`
	WalletType  WalletType        `json:"wallet_type"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Redirect    RedirectTargets   `json:"redirect"`
	Billing     BillingIdentity   `json:"billing"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
	Status      string            `json:"status,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PaymentRecord is observed from the provider's payment feed, never created locally.
type PaymentRecord struct {
	ID                string        `json:"id"`
	SourceRef         string        `json:"source_ref,omitempty"`
	AmountMinor       int64         `json:"amount_minor"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	ExternalReference string        `json:"external_reference,omitempty"`
	Description       string        `json:"description"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// SuccessPayload is handed to the success callback once a paid record matches.
type SuccessPayload struct {
	SourceID          string     `json:"source_id"`
	PaymentID         string     `json:"payment_id"`
	AmountMinor       int64      `json:"amount_minor"`
	Currency          string     `json:"currency"`
	Method            WalletType `json:"method"`
	ExternalReference string     `json:"external_reference,omitempty"`
}

// Outcome is the terminal result of a reconciliation session.
type Outcome struct {
	IntentID  string          `json:"intent_id"`
	State     SessionState    `json:"state"`
	Success   *SuccessPayload `json:"success,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Err       error           `json:"-"`
	SettledAt time.Time       `json:"settled_at"`
}

// CreateIntentRequest is the data needed to open a wallet payment for a booking.
type CreateIntentRequest struct {
	WalletType  WalletType        `json:"wallet_type" validate:"required,oneof=gcash paymaya grab_pay"`
	Amount      string            `json:"amount" validate:"required,numeric"`
	Currency    string            `json:"currency" validate:"required,iso4217"`
	Description string            `json:"description" validate:"required,max=255"`
	BookingID   string            `json:"booking_id,omitempty"`
	Redirect    RedirectTargets   `json:"redirect" validate:"required"`
	Billing     BillingIdentity   `json:"billing" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
