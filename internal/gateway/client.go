package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
	"github.com/takato23/lookescolar-sub010/internal/retry"
)

// PaymentAPI is what reconciliation needs from the gateway.
type PaymentAPI interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// Client wraps the payment processor's REST API with bounded retry.
// Preference creation gets 2 retries, payment lookup 3, both through the
// shared backoff policy. 4xx responses and malformed success bodies are
// terminal; only network errors, 5xx and 429 are retried.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	accessToken  string
	createPolicy retry.Policy
	lookupPolicy retry.Policy
}

// NewClient builds a Client. A missing access token is a configuration error
// surfaced here so main can fail at startup instead of per request.
func NewClient(baseURL, accessToken string, httpClient *http.Client) (*Client, error) {
	if accessToken == "" {
		return nil, errors.New("gateway access token is required")
	}
	if baseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient:   httpClient,
		baseURL:      baseURL,
		accessToken:  accessToken,
		createPolicy: retry.Policy{Base: 200 * time.Millisecond, Cap: 2 * time.Second, MaxAttempts: 3},
		lookupPolicy: retry.Policy{Base: 200 * time.Millisecond, Cap: 2 * time.Second, MaxAttempts: 4},
	}, nil
}

// wire shapes

type preferenceItemBody struct {
	Title      string  `json:"title"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceBody struct {
	ExternalReference string               `json:"external_reference"`
	Items             []preferenceItemBody `json:"items"`
	Payer             struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	} `json:"payer"`
	NotificationURL string `json:"notification_url,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount float64     `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
}

// CreatePreference asks the gateway for a payment intent and redirect URL.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body := preferenceBody{
		ExternalReference: req.OrderID,
		NotificationURL:   req.NotificationURL,
	}
	body.Payer.Name = req.Payer.Name
	body.Payer.Email = req.Payer.Email
	for _, it := range req.Items {
		body.Items = append(body.Items, preferenceItemBody{
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  centsToAmount(it.UnitPriceCents),
			CurrencyID: it.Currency,
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	var pref *Preference
	err = c.createPolicy.Do(ctx, func(ctx context.Context) error {
		raw, err := c.do(ctx, http.MethodPost, "/checkout/preferences", payload)
		if err != nil {
			return err
		}
		var resp preferenceResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode preference: %w: %w", apperr.ErrGatewayRejected, err)
		}
		if resp.ID == "" || resp.InitPoint == "" {
			// protocol violation: success without the fields we need
			return fmt.Errorf("preference response missing id/init_point: %w", apperr.ErrGatewayRejected)
		}
		pref = &Preference{ID: resp.ID, InitURL: resp.InitPoint}
		return nil
	}, apperr.Retryable)
	if err != nil {
		return nil, err
	}
	return pref, nil
}

// GetPayment fetches payment details by the gateway's payment id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var pay *Payment
	err := c.lookupPolicy.Do(ctx, func(ctx context.Context) error {
		raw, err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil)
		if err != nil {
			return err
		}
		var resp paymentResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode payment: %w: %w", apperr.ErrGatewayRejected, err)
		}
		if resp.ID.String() == "" || resp.Status == "" {
			return fmt.Errorf("payment response missing id/status: %w", apperr.ErrGatewayRejected)
		}
		pay = &Payment{
			ID:                resp.ID.String(),
			Status:            resp.Status,
			StatusDetail:      resp.StatusDetail,
			ExternalReference: resp.ExternalReference,
			AmountCents:       amountToCents(resp.TransactionAmount),
			Currency:          resp.CurrencyID,
		}
		return nil
	}, apperr.Retryable)
	if err != nil {
		return nil, err
	}
	return pay, nil
}

// do performs one HTTP attempt and classifies the outcome: network errors,
// 5xx and 429 wrap ErrGatewayUnavailable (retryable), other 4xx wrap
// ErrGatewayRejected (terminal).
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, apperr.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w: %w", apperr.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("gateway returned %s: %w", strconv.Itoa(resp.StatusCode), apperr.ErrGatewayUnavailable)
	default:
		return nil, fmt.Errorf("gateway returned %s: %w", strconv.Itoa(resp.StatusCode), apperr.ErrGatewayRejected)
	}
}
