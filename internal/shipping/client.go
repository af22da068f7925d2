// Package shipping is the client for the shipping aggregator: bearer-token
// authentication plus shipment creation and cancellation.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
)

const (
	pathLogin  = "/v1/external/auth/login"
	pathCreate = "/v1/external/orders/create/adhoc"
	pathCancel = "/v1/external/orders/cancel"

	// tokens are refreshed this long before the carrier would expire them
	tokenSkew = time.Minute
)

type Options struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	TokenTTL    time.Duration
	Parcel      Parcel
	HTTPClient  *http.Client
	Tokens      TokenStore
	Logger      *slog.Logger
	Now         func() time.Time
}

type Client struct {
	baseURL string
	creds   Credentials
	ttl     time.Duration
	parcel  Parcel
	http    *http.Client
	tokens  TokenStore
	log     *slog.Logger
	now     func() time.Time
	group   singleflight.Group
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 8 * time.Second
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
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		creds:   opts.Credentials,
		ttl:     opts.TokenTTL,
		parcel:  opts.Parcel,
		http:    hc,
		tokens:  opts.Tokens,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = 24 * time.Hour
	}
	if c.parcel == (Parcel{}) {
		c.parcel = DefaultParcel
	}
	if c.tokens == nil {
		c.tokens = &memoryTokens{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type loginResp struct {
	Token string `json:"token"`
}

type carrierError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// Authenticate exchanges credentials for a bearer token. It always calls the
// carrier; use the cached path through CreateShipment and CancelShipment.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	start := time.Now()
	var out loginResp
	_, err := c.send(ctx, "login", pathLogin, "", map[string]string{"email": creds.Email, "password": creds.Password}, &out)
	if err == nil && out.Token == "" {
		err = &RejectedError{Op: "login", StatusCode: http.StatusOK, Message: "empty token"}
	}
	metrics.UpstreamRequestDuration.WithLabelValues("carrier", "login", outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return out.Token, nil
}

// token returns a cached token, authenticating at most once across
// concurrent callers when the cache is empty or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	if tok, exp, err := c.tokens.Load(ctx); err == nil && tok != "" && c.now().Add(tokenSkew).Before(exp) {
		return tok, nil
	} else if err != nil {
		c.log.Warn("carrier token cache load failed", "err", err)
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		if tok, exp, err := c.tokens.Load(ctx); err == nil && tok != "" && c.now().Add(tokenSkew).Before(exp) {
			return tok, nil
		}
		tok, err := c.Authenticate(ctx, c.creds)
		if err != nil {
			return "", err
		}
		metrics.CarrierTokenRefreshTotal.Inc()
		if err := c.tokens.Store(ctx, tok, c.now().Add(c.ttl)); err != nil {
			c.log.Warn("carrier token cache store failed", "err", err)
		}
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type createResp struct {
	OrderID    int64  `json:"order_id"`
	ShipmentID int64  `json:"shipment_id"`
	Status     string `json:"status"`
	AWBCode    string `json:"awb_code"`
	Message    string `json:"message"`
}

type createBody struct {
	ShipmentRequest
	OrderDate         string  `json:"order_date"`
	ShippingIsBilling bool    `json:"shipping_is_billing"`
	Length            float64 `json:"length"`
	Breadth           float64 `json:"breadth"`
	Height            float64 `json:"height"`
	Weight            float64 `json:"weight"`
}

func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	start := time.Now()
	date := req.OrderDate
	if date.IsZero() {
		date = c.now()
	}
	body := createBody{
		ShipmentRequest:   req,
		OrderDate:         date.UTC().Format("2006-01-02 15:04"),
		ShippingIsBilling: true,
		Length:            c.parcel.Length,
		Breadth:           c.parcel.Breadth,
		Height:            c.parcel.Height,
		Weight:            c.parcel.Weight,
	}

	var out createResp
	_, err := c.authorized(ctx, "create_shipment", pathCreate, body, &out)
	if err == nil && out.OrderID == 0 {
		msg := out.Message
		if msg == "" {
			msg = "no carrier order id in response"
		}
		err = &RejectedError{Op: "create_shipment", StatusCode: http.StatusOK, Message: msg}
	}
	metrics.UpstreamRequestDuration.WithLabelValues("carrier", "create_shipment", outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return Shipment{}, err
	}
	return Shipment{
		CarrierOrderID: out.OrderID,
		ShipmentID:     out.ShipmentID,
		TrackingID:     out.AWBCode,
		Status:         out.Status,
	}, nil
}

// CancelShipment asks the carrier to cancel its order. An order the carrier
// does not know or has already cancelled counts as cancelled.
func (c *Client) CancelShipment(ctx context.Context, carrierOrderID int64) (CancelResult, error) {
	start := time.Now()
	res, err := c.cancel(ctx, carrierOrderID)
	metrics.UpstreamRequestDuration.WithLabelValues("carrier", "cancel_shipment", outcome(err)).Observe(time.Since(start).Seconds())
	return res, err
}

func (c *Client) cancel(ctx context.Context, carrierOrderID int64) (CancelResult, error) {
	_, err := c.authorized(ctx, "cancel_shipment", pathCancel, map[string][]int64{"ids": {carrierOrderID}}, nil)
	if err == nil {
		return CancelOK, nil
	}
	var rej *RejectedError
	if errors.As(err, &rej) && (rej.StatusCode == http.StatusNotFound || alreadyCancelled(rej.Message)) {
		return CancelAlreadyCancelled, nil
	}
	return 0, err
}

func alreadyCancelled(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already cancel") || strings.Contains(m, "already been cancel")
}

// authorized sends a bearer-authenticated request. A 401 drops the cached
// token and the request is retried once with a fresh one.
func (c *Client) authorized(ctx context.Context, op, path string, in, out any) (int, error) {
	for attempt := 0; ; attempt++ {
		tok, err := c.token(ctx)
		if err != nil {
			return 0, err
		}
		code, err := c.send(ctx, op, path, tok, in, out)
		if code == http.StatusUnauthorized && attempt == 0 {
			c.log.Info("carrier token rejected, re-authenticating", "op", op)
			if err := c.tokens.Invalidate(ctx); err != nil {
				c.log.Warn("carrier token invalidate failed", "err", err)
			}
			continue
		}
		return code, err
	}
}

func (c *Client) send(ctx context.Context, op, path, token string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrCarrierUnavailable, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %s: read body: %v", ErrCarrierUnavailable, op, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("%w: %s: status %d", ErrCarrierUnavailable, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		var ce carrierError
		_ = json.Unmarshal(raw, &ce)
		msg := ce.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: %s: decode: %v", ErrCarrierUnavailable, op, err)
		}
	}
	return resp.StatusCode, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCarrierRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
