package notify

import (
	"context"
	"fmt"
	"strings"

	"weddingpay/internal/models"
	"weddingpay/pkg/payment"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// EmailAPI is the part of the SES v2 client the mailer uses.
type EmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// ReceiptMailer emails a payment receipt through Amazon SES.
type ReceiptMailer struct {
	client EmailAPI
	from   string
}

// NewReceiptMailer builds an SES client from the default AWS credential chain.
func NewReceiptMailer(ctx context.Context, region, from string) (*ReceiptMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notify.NewReceiptMailer: load aws config: %w", err)
	}
	return NewReceiptMailerWithClient(sesv2.NewFromConfig(cfg), from), nil
}

func NewReceiptMailerWithClient(client EmailAPI, from string) *ReceiptMailer {
	return &ReceiptMailer{client: client, from: from}
}

// SendReceipt mails the payer a confirmation for a settled payment.
func (m *ReceiptMailer) SendReceipt(ctx context.Context, intent models.PaymentIntent, paid models.SuccessPayload) error {
	if intent.Billing.Email == "" {
		return fmt.Errorf("notify.SendReceipt: intent %s has no billing email", intent.ID)
	}

	subject, body := receiptContent(intent, paid)
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: []string{intent.Billing.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	if _, err := m.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("notify.SendReceipt: %w", err)
	}
	return nil
}

func receiptContent(intent models.PaymentIntent, paid models.SuccessPayload) (string, string) {
	amount := payment.FormatMinor(paid.AmountMinor, paid.Currency)
	subject := fmt.Sprintf("Payment received: %s %s", paid.Currency, amount)

	var b strings.Builder
	if intent.Billing.Name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", intent.Billing.Name)
	}
	fmt.Fprintf(&b, "We received your %s payment of %s %s.\n\n", walletLabel(paid.Method), paid.Currency, amount)
	if intent.Description != "" {
		fmt.Fprintf(&b, "For: %s\n", intent.Description)
	}
	if booking := intent.Metadata["booking_id"]; booking != "" {
		fmt.Fprintf(&b, "Booking: %s\n", booking)
	}
	fmt.Fprintf(&b, "Payment ID: %s\n", paid.PaymentID)
	if paid.ExternalReference != "" {
		fmt.Fprintf(&b, "Reference: %s\n", paid.ExternalReference)
	}
	return subject, b.String()
}

func walletLabel(w models.WalletType) string {
	switch w {
	case models.WalletGCash:
		return "GCash"
	case models.WalletMaya:
		return "Maya"
	case models.WalletGrabPay:
		return "GrabPay"
	default:
		return "e-wallet"
	}
}
