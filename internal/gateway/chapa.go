// Package gateway talks to the external payment processor over its HTTP API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Verification verdicts reported by the processor.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// ErrNoCheckoutURL is returned when initialization succeeds without a redirect target.
var ErrNoCheckoutURL = errors.New("gateway response has no checkout_url")

// InitiateRequest is the initialization payload. Field names are part of the
// processor's wire contract.
type InitiateRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	TxRef       string `json:"tx_ref"`
	CallbackURL string `json:"callback_url"`
	ReturnURL   string `json:"return_url"`
}

// Verification is the processor's view of a transaction.
type Verification struct {
	TxRef    string
	Status   string
	Amount   decimal.Decimal
	Currency string
}

// Gateway initiates and verifies transactions.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
	Verify(ctx context.Context, txRef string) (*Verification, error)
}

// StatusError is a non-2xx response the client could not interpret as a verdict.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// ChapaClient implements Gateway against a Chapa-compatible API.
type ChapaClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
}

var _ Gateway = (*ChapaClient)(nil)

// Option configures a ChapaClient.
type Option func(*ChapaClient)

// WithHTTPClient replaces the default traced client.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *ChapaClient) { cc.http = c }
}

// NewChapaClient creates a client for baseURL (e.g. https://api.chapa.co/v1).
func NewChapaClient(baseURL, secretKey string, opts ...Option) *ChapaClient {
	c := &ChapaClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

type envelope struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initiateData struct {
	CheckoutURL string `json:"checkout_url"`
}

type verifyData struct {
	Status   string          `json:"status"`
	TxRef    string          `json:"tx_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Initiate registers the transaction and returns the hosted checkout URL.
func (c *ChapaClient) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "marshal initiate request")
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", body)
	if err != nil {
		return "", errors.Wrap(err, "initiate")
	}
	defer resp.Body.Close()

	env, raw, err := decodeEnvelope(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Op: "initiate", StatusCode: resp.StatusCode, Message: message(env, raw)}
	}
	if err != nil {
		return "", errors.Wrap(err, "decode initiate response")
	}

	var data initiateData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", errors.Wrap(err, "decode initiate data")
		}
	}
	if data.CheckoutURL == "" {
		return "", ErrNoCheckoutURL
	}
	return data.CheckoutURL, nil
}

// Verify asks the processor for the authoritative status of txRef.
func (c *ChapaClient) Verify(ctx context.Context, txRef string) (*Verification, error) {
	endpoint := c.baseURL + "/transaction/verify/" + url.PathEscape(txRef)

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "verify")
	}
	defer resp.Body.Close()

	env, raw, decodeErr := decodeEnvelope(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
	case resp.StatusCode >= 400 && resp.StatusCode <= 499 && decodeErr == nil && env.Status == StatusFailed:
		return &Verification{TxRef: txRef, Status: StatusFailed}, nil
	default:
		return nil, &StatusError{Op: "verify", StatusCode: resp.StatusCode, Message: message(env, raw)}
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "decode verify response")
	}

	var data verifyData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, errors.Wrap(err, "decode verify data")
		}
	}

	status := data.Status
	if status == "" {
		status = env.Status
	}

	v := &Verification{
		TxRef:    txRef,
		Status:   normalizeStatus(status),
		Amount:   data.Amount,
		Currency: data.Currency,
	}
	if data.TxRef != "" {
		v.TxRef = data.TxRef
	}
	return v, nil
}

// do sends the request through the circuit breaker. Server errors count as
// breaker failures; the response is still returned to the caller.
func (c *ChapaClient) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var resp *http.Response
	_, err := c.breaker.Execute(func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		r, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		resp = r
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("gateway returned %d", r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

func decodeEnvelope(r io.Reader) (envelope, []byte, error) {
	var env envelope
	raw, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return env, nil, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, raw, err
	}
	return env, raw, nil
}

func message(env envelope, raw []byte) string {
	if len(env.Message) > 0 {
		var s string
		if json.Unmarshal(env.Message, &s) == nil {
			return s
		}
		return string(env.Message)
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

func normalizeStatus(s string) string {
	switch s {
	case StatusSuccess, StatusFailed:
		return s
	default:
		return StatusPending
	}
}
