// Package payment talks to the payment gateway: it opens gateway orders for
// prepaid checkouts and verifies the signature the checkout widget returns.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
)

type Options struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	keyID   string
	secret  string
	http    *http.Client
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		keyID:   opts.KeyID,
		secret:  opts.KeySecret,
		http:    hc,
	}
}

// Intent is the gateway-side order handle the checkout widget is opened with.
type Intent struct {
	ID       string            `json:"id"`
	Entity   string            `json:"entity,omitempty"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Status   string            `json:"status,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type createIntentReq struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent opens a gateway order for amountMinor (paise, cents). The
// receipt doubles as the idempotency key so a retried call reuses it.
func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (Intent, error) {
	start := time.Now()
	intent, err := c.createIntent(ctx, amountMinor, currency, receipt, notes)
	metrics.UpstreamRequestDuration.WithLabelValues("gateway", "create_intent", outcome(err)).Observe(time.Since(start).Seconds())
	return intent, err
}

func (c *Client) createIntent(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (Intent, error) {
	body, err := json.Marshal(createIntentReq{Amount: amountMinor, Currency: currency, Receipt: receipt, Notes: notes})
	if err != nil {
		return Intent{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Intent{}, err
	}
	req.SetBasicAuth(c.keyID, c.secret)
	req.Header.Set("Content-Type", "application/json")
	if receipt != "" {
		req.Header.Set("Idempotency-Key", receipt)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Intent{}, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return Intent{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var ge gatewayError
		_ = json.Unmarshal(raw, &ge)
		return Intent{}, &RejectedError{StatusCode: resp.StatusCode, Code: ge.Error.Code, Description: ge.Error.Description}
	}

	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return Intent{}, fmt.Errorf("%w: decode intent: %v", ErrGatewayUnavailable, err)
	}
	return intent, nil
}

// VerifySignature checks a checkout triple against the configured key secret.
func (c *Client) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return VerifySignature(gatewayOrderID, paymentID, signature, c.secret)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
