package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"weddingpay/internal/models"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// stripeWalletTypes maps our wallet names to Stripe payment method types.
// Stripe only carries the redirect wallets it supports natively.
var stripeWalletTypes = map[models.WalletType]string{
	models.WalletGrabPay: "grabpay",
}

// StripeProvider runs wallet payments through Stripe PaymentIntents.
// The PaymentIntent plays the role of both the source and the payment record.
type StripeProvider struct {
	intents *paymentintent.Client
}

func NewStripeProvider(apiKey string) *StripeProvider {
	return &StripeProvider{
		intents: &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: apiKey},
	}
}

// CreateSource creates and confirms a PaymentIntent so Stripe returns the wallet's redirect URL.
func (s *StripeProvider) CreateSource(ctx context.Context, req SourceRequest) (*Source, error) {
	methodType, ok := stripeWalletTypes[req.WalletType]
	if !ok {
		return nil, &models.ProviderError{
			Kind: models.ProviderErrorPermanent,
			Op:   "create source",
			Err:  fmt.Errorf("wallet %q is not supported by stripe", req.WalletType),
		}
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountMinor),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{methodType}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String(methodType),
		},
		Description:  stripe.String(req.Description),
		ReceiptEmail: stripe.String(req.Billing.Email),
		Confirm:      stripe.Bool(true),
		ReturnURL:    stripe.String(req.Redirect.Success),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("billing_name", req.Billing.Name)
	params.AddMetadata("billing_phone", req.Billing.Phone)

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, stripeProviderError("create source", err)
	}

	src := &Source{ID: pi.ID, Status: string(pi.Status)}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		src.CheckoutURL = pi.NextAction.RedirectToURL.URL
	}
	return src, nil
}

// ListPayments returns a single page of the most recent PaymentIntents.
func (s *StripeProvider) ListPayments(ctx context.Context, limit int) ([]models.PaymentRecord, error) {
	params := &stripe.PaymentIntentListParams{}
	params.Limit = stripe.Int64(int64(limit))
	params.Single = true
	params.Context = ctx

	it := s.intents.List(params)
	records := make([]models.PaymentRecord, 0, limit)
	for it.Next() && len(records) < limit {
		records = append(records, stripeRecord(it.PaymentIntent()))
	}
	if err := it.Err(); err != nil {
		return nil, stripeProviderError("list payments", err)
	}
	return records, nil
}

func stripeRecord(pi *stripe.PaymentIntent) models.PaymentRecord {
	rec := models.PaymentRecord{
		ID:          pi.ID,
		SourceRef:   pi.ID,
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		Description: pi.Description,
		CreatedAt:   time.Unix(pi.Created, 0).UTC(),
	}
	if pi.Metadata != nil {
		rec.ExternalReference = pi.Metadata["reference"]
	}

	switch {
	case pi.Status == stripe.PaymentIntentStatusSucceeded:
		rec.Status = models.PaymentPaid
	case pi.Status == stripe.PaymentIntentStatusCanceled:
		rec.Status = models.PaymentFailed
		rec.FailureReason = string(pi.CancellationReason)
	case pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError != nil:
		rec.Status = models.PaymentFailed
		rec.FailureReason = pi.LastPaymentError.Msg
	default:
		rec.Status = models.PaymentPending
	}
	return rec
}

func stripeProviderError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode != 0 {
		return &models.ProviderError{Kind: classifyStatus(se.HTTPStatusCode), Op: op, StatusCode: se.HTTPStatusCode, Err: err}
	}
	return &models.ProviderError{Kind: models.ProviderErrorTransient, Op: op, Err: err}
}
