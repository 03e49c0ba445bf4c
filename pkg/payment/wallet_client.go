package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weddingpay/internal/models"

	"golang.org/x/oauth2"
)

// WalletClient talks to the wallet gateway's REST API (sources + payments).
type WalletClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewWalletClient creates a gateway client that sends secretKey as a bearer token on every call.
func NewWalletClient(baseURL, secretKey string, timeout time.Duration) *WalletClient {
	return newWalletClient(baseURL, secretKey, http.DefaultTransport, timeout)
}

func newWalletClient(baseURL, secretKey string, base http.RoundTripper, timeout time.Duration) *WalletClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secretKey, TokenType: "Bearer"})
	return &WalletClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: ts, Base: base},
		},
	}
}

type sourceEnvelope struct {
	Data struct {
		ID         string           `json:"id,omitempty"`
		Attributes sourceAttributes `json:"attributes"`
	} `json:"data"`
}

type sourceAttributes struct {
	Type        string            `json:"type"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Redirect    struct {
		Success     string `json:"success"`
		Failed      string `json:"failed"`
		CheckoutURL string `json:"checkout_url,omitempty"`
	} `json:"redirect"`
	Billing *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"billing,omitempty"`
}

type paymentList struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Amount            int64  `json:"amount"`
			Currency          string `json:"currency"`
			Status            string `json:"status"`
			Description       string `json:"description"`
			ExternalReference string `json:"external_reference_number"`
			FailedMessage     string `json:"failed_message"`
			CreatedAt         int64  `json:"created_at"`
			Source            struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"source"`
		} `json:"attributes"`
	} `json:"data"`
}

type apiErrors struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateSource opens a wallet source. The idempotency key is forwarded so that a
// retried create returns the source made by the first attempt.
func (c *WalletClient) CreateSource(ctx context.Context, req SourceRequest) (*Source, error) {
	var body sourceEnvelope
	attrs := &body.Data.Attributes
	attrs.Type = string(req.WalletType)
	attrs.Amount = req.AmountMinor
	attrs.Currency = req.Currency
	attrs.Description = req.Description
	attrs.Metadata = req.Metadata
	attrs.Redirect.Success = req.Redirect.Success
	attrs.Redirect.Failed = req.Redirect.Failure
	attrs.Billing = &struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	}{req.Billing.Name, req.Billing.Email, req.Billing.Phone}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("WalletClient.CreateSource: encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sources", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("WalletClient.CreateSource: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var out sourceEnvelope
	if err := c.do(httpReq, "create source", &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, &models.ProviderError{Kind: models.ProviderErrorTransient, Op: "create source", Err: errors.New("response carried no source id")}
	}
	return &Source{
		ID:          out.Data.ID,
		CheckoutURL: out.Data.Attributes.Redirect.CheckoutURL,
		Status:      out.Data.Attributes.Status,
	}, nil
}

// ListPayments returns the most recent payments, newest first, at most limit of them.
func (c *WalletClient) ListPayments(ctx context.Context, limit int) ([]models.PaymentRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("WalletClient.ListPayments: %w", err)
	}

	var out paymentList
	if err := c.do(httpReq, "list payments", &out); err != nil {
		return nil, err
	}

	records := make([]models.PaymentRecord, 0, len(out.Data))
	for _, p := range out.Data {
		a := p.Attributes
		records = append(records, models.PaymentRecord{
			ID:                p.ID,
			SourceRef:         a.Source.ID,
			AmountMinor:       a.Amount,
			Currency:          strings.ToUpper(a.Currency),
			Status:            walletPaymentStatus(a.Status),
			ExternalReference: a.ExternalReference,
			Description:       a.Description,
			FailureReason:     a.FailedMessage,
			CreatedAt:         time.Unix(a.CreatedAt, 0).UTC(),
		})
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func walletPaymentStatus(s string) models.PaymentStatus {
	switch strings.ToLower(s) {
	case "paid", "succeeded":
		return models.PaymentPaid
	case "failed", "cancelled", "expired":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

// do sends the request and decodes a 2xx body into out. Failures are classified into
// transient (network, 408, 429, 5xx) and permanent (other 4xx) provider errors.
func (c *WalletClient) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &models.ProviderError{Kind: models.ProviderErrorTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &models.ProviderError{Kind: models.ProviderErrorTransient, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &models.ProviderError{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errorDetail(body, resp.Status)),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &models.ProviderError{Kind: models.ProviderErrorTransient, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classifyStatus(code int) models.ProviderErrorKind {
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return models.ProviderErrorTransient
	}
	return models.ProviderErrorPermanent
}

func errorDetail(body []byte, fallback string) string {
	var e apiErrors
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for _, item := range e.Errors {
			if item.Code != "" {
				parts = append(parts, item.Code+": "+item.Detail)
			} else {
				parts = append(parts, item.Detail)
			}
		}
		return strings.Join(parts, "; ")
	}
	return fallback
}
