package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

type fakeService struct {
	intentReq fulfillment.IntentRequest
	proof     fulfillment.PaymentProof
	placeReq  fulfillment.PlaceRequest
	orderID   string
	status    string
	cursor    string
	limit     int

	verifyOK bool
	result   *fulfillment.PlaceResult
	order    *orders.Order
	page     *orders.Page
	err      error
}

func (f *fakeService) CreatePaymentIntent(_ context.Context, req fulfillment.IntentRequest) (payment.Intent, error) {
	f.intentReq = req
	return payment.Intent{ID: "order_gw_1", Amount: orders.MinorUnits(req.Amount), Currency: "INR"}, f.err
}

func (f *fakeService) VerifyPayment(_ context.Context, p fulfillment.PaymentProof) (bool, error) {
	f.proof = p
	return f.verifyOK, f.err
}

func (f *fakeService) PlaceOrder(_ context.Context, req fulfillment.PlaceRequest) (*fulfillment.PlaceResult, error) {
	f.placeReq = req
	return f.result, f.err
}

func (f *fakeService) CancelOrder(_ context.Context, id string) (*orders.Order, error) {
	f.orderID = id
	return f.order, f.err
}

func (f *fakeService) RetryShipment(_ context.Context, id string) (*orders.Order, error) {
	f.orderID = id
	return f.order, f.err
}

func (f *fakeService) UpdateShipmentStatus(_ context.Context, id, status string) (*orders.Order, error) {
	f.orderID, f.status = id, status
	return f.order, f.err
}

func (f *fakeService) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	f.orderID = id
	return f.order, f.err
}

func (f *fakeService) ExportProcessing(_ context.Context, cursor string, limit int) (*orders.Page, error) {
	f.cursor, f.limit = cursor, limit
	return f.page, f.err
}

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	(&OrdersHandler{Svc: svc, Log: logging.Discard()}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return do(t, req)
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func shippedOrder() *orders.Order {
	return &orders.Order{
		OrderID:         "ORDER-1",
		Status:          orders.StatusProcessing,
		Stage:           orders.StageShipmentCreated,
		TotalAmount:     decimal.NewFromInt(450),
		ShipmentDetails: &orders.ShipmentDetails{CarrierOrderID: 1001, TrackingID: "AWB1001", Status: orders.ShipmentProcessing},
	}
}

func TestPlaceOrder_ObjectAddressAndCanonicalFields(t *testing.T) {
	svc := &fakeService{result: &fulfillment.PlaceResult{Order: shippedOrder()}}
	srv := newTestServer(t, svc)

	resp, body := post(t, srv, "/orders/place-order", `{
		"userId": "u1",
		"address": {"street": "12 MG Road", "city": "Bengaluru", "state": "Karnataka", "postalCode": "560001"},
		"products": [{"productId": "p1", "quantity": 2, "price": "100"}, {"productId": "p2", "quantity": 1}],
		"totalAmount": 450,
		"paymentMethod": "COD"
	}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ORDER-1", body["orderId"])
	assert.Equal(t, "AWB1001", body["trackingId"])

	req := svc.placeReq
	assert.Equal(t, "u1", req.UserID)
	require.NotNil(t, req.Address)
	assert.Equal(t, "Bengaluru", req.Address.City)
	assert.Empty(t, req.RawAddress)
	require.Len(t, req.Items, 2)
	assert.Equal(t, 2, req.Items[0].Quantity)
	require.NotNil(t, req.Items[0].Price)
	assert.True(t, req.Items[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, req.Items[1].Price)
	require.NotNil(t, req.TotalAmount)
	assert.True(t, req.TotalAmount.Equal(decimal.NewFromInt(450)))
	assert.Nil(t, req.Payment)
}

func TestPlaceOrder_LegacyAliases(t *testing.T) {
	svc := &fakeService{result: &fulfillment.PlaceResult{Order: shippedOrder()}}
	srv := newTestServer(t, svc)

	resp, _ := post(t, srv, "/orders/place-order", `{
		"userId": "u1",
		"shippingAddress": "12 MG Road, Bengaluru, Karnataka, 560001, 9876543210",
		"productsOrdered": [{"productId": "p1", "productQty": 3}],
		"price": "300",
		"paymentMethod": "Prepaid",
		"razorpay_order_id": "order_gw_1",
		"razorpay_payment_id": "pay_1",
		"razorpay_signature": "abc"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := svc.placeReq
	assert.Nil(t, req.Address)
	assert.Equal(t, "12 MG Road, Bengaluru, Karnataka, 560001, 9876543210", req.RawAddress)
	require.Len(t, req.Items, 1)
	assert.Equal(t, fulfillment.LineRequest{ProductID: "p1", Quantity: 3}, req.Items[0])
	assert.True(t, req.TotalAmount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, &orders.PaymentDetails{GatewayOrderID: "order_gw_1", PaymentID: "pay_1", Signature: "abc"}, req.Payment)
}

func TestPlaceOrder_PaymentDetailsObjectWins(t *testing.T) {
	svc := &fakeService{result: &fulfillment.PlaceResult{Order: shippedOrder()}}
	srv := newTestServer(t, svc)

	post(t, srv, "/orders/place-order", `{
		"userId": "u1", "address": "a, b, c, 1", "products": [{"productId": "p1", "quantity": 1}],
		"paymentMethod": "Prepaid",
		"paymentDetails": {"gatewayOrderId": "o2", "paymentId": "p2", "signature": "s2"},
		"gatewayOrderId": "o1", "paymentId": "p1", "signature": "s1"
	}`)
	assert.Equal(t, &orders.PaymentDetails{GatewayOrderID: "o2", PaymentID: "p2", Signature: "s2"}, svc.placeReq.Payment)
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	order := shippedOrder()
	body := `{"userId":"u1","address":"a, b, c, 1","products":[{"productId":"p1","quantity":1}],"paymentMethod":"COD","idempotencyKey":"from-body"}`

	t.Run("header wins over body", func(t *testing.T) {
		svc := &fakeService{result: &fulfillment.PlaceResult{Order: order}}
		srv := newTestServer(t, svc)
		resp, _ := post(t, srv, "/orders/place-order", body, "Idempotency-Key", "from-header")
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, "from-header", svc.placeReq.IdempotencyKey)
	})
	t.Run("body key used without header", func(t *testing.T) {
		svc := &fakeService{result: &fulfillment.PlaceResult{Order: order}}
		srv := newTestServer(t, svc)
		post(t, srv, "/orders/place-order", body)
		assert.Equal(t, "from-body", svc.placeReq.IdempotencyKey)
	})
	t.Run("replay answers 200", func(t *testing.T) {
		svc := &fakeService{result: &fulfillment.PlaceResult{Order: order, Replayed: true}}
		srv := newTestServer(t, svc)
		resp, out := post(t, srv, "/orders/place-order", body, "Idempotency-Key", "k1")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, out["replayed"])
	})
	t.Run("bad header is rejected before the service", func(t *testing.T) {
		svc := &fakeService{}
		srv := newTestServer(t, svc)
		resp, out := post(t, srv, "/orders/place-order", body, "Idempotency-Key", "has spaces")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation", out["kind"])
		assert.Empty(t, svc.placeReq.UserID)
	})
	t.Run("bad body key", func(t *testing.T) {
		svc := &fakeService{}
		srv := newTestServer(t, svc)
		resp, _ := post(t, srv, "/orders/place-order", strings.Replace(body, "from-body", "no/slashes", 1))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPlaceOrder_BadBodies(t *testing.T) {
	srv := newTestServer(t, &fakeService{})
	for _, body := range []string{`{`, `{"address": 12}`, `[]`} {
		resp, out := post(t, srv, "/orders/place-order", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, false, out["success"], body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind fulfillment.Kind
		want int
	}{
		{fulfillment.KindValidation, http.StatusBadRequest},
		{fulfillment.KindNotFound, http.StatusNotFound},
		{fulfillment.KindPaymentVerification, http.StatusPaymentRequired},
		{fulfillment.KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{fulfillment.KindUpstreamRejected, http.StatusUnprocessableEntity},
		{fulfillment.KindConflict, http.StatusConflict},
		{fulfillment.KindPersistence, http.StatusInternalServerError},
		{fulfillment.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			svc := &fakeService{err: &fulfillment.Error{Kind: tt.kind, Op: "cancel_order", Msg: "db password is hunter2"}}
			srv := newTestServer(t, svc)

			resp, out := post(t, srv, "/orders/cancel-order", `{"orderId":"ORDER-1"}`)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.kind.String(), out["kind"])
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", out["error"])
			} else {
				assert.Contains(t, out["error"], "cancel_order")
			}
		})
	}
}

func TestPlaceOrder_FailureCarriesOrder(t *testing.T) {
	o := shippedOrder()
	o.Stage, o.ShipmentDetails = orders.StageShipmentFailed, nil
	cause := fmt.Errorf("%w: timeout", shipping.ErrCarrierUnavailable)
	svc := &fakeService{err: &fulfillment.Error{Kind: fulfillment.KindUpstreamUnavailable, Op: "place_order", Err: cause, Order: o}}
	srv := newTestServer(t, svc)

	resp, out := post(t, srv, "/orders/place-order", `{"userId":"u1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	order, ok := out["order"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ORDER-1", order["orderId"])
	assert.Equal(t, string(orders.StageShipmentFailed), order["stage"])
}

func TestCreateOrderIntent_AmountIsMinorUnits(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, out := post(t, srv, "/orders/create-order", `{"amount": 49999, "currency": "INR", "userId": "u1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, svc.intentReq.Amount.Equal(decimal.RequireFromString("499.99")))
	assert.Equal(t, "u1", svc.intentReq.UserID)
	intent := out["order"].(map[string]any)
	assert.Equal(t, "order_gw_1", intent["id"])
}

func TestVerifyPayment(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		svc := &fakeService{verifyOK: true}
		srv := newTestServer(t, svc)
		resp, out := post(t, srv, "/orders/verify-payment", `{"razorpay_order_id":"o","razorpay_payment_id":"p","razorpay_signature":"s"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, out["success"])
		assert.Equal(t, fulfillment.PaymentProof{GatewayOrderID: "o", PaymentID: "p", Signature: "s"}, svc.proof)
	})
	t.Run("invalid", func(t *testing.T) {
		srv := newTestServer(t, &fakeService{})
		resp, out := post(t, srv, "/orders/verify-payment", `{"gatewayOrderId":"o","paymentId":"p","signature":"s"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, false, out["success"])
	})
}

func TestOrderCommands(t *testing.T) {
	for _, path := range []string{"/orders/cancel-order", "/orders/retry-shipment"} {
		svc := &fakeService{order: shippedOrder()}
		srv := newTestServer(t, svc)

		resp, out := post(t, srv, path, `{"orderId":"ORDER-1"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ORDER-1", svc.orderID, path)
		assert.Equal(t, "AWB1001", out["trackingId"], path)

		resp, _ = post(t, srv, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestShipmentStatus(t *testing.T) {
	svc := &fakeService{order: shippedOrder()}
	srv := newTestServer(t, svc)

	resp, _ := post(t, srv, "/orders/shipment-status", `{"orderId":"ORDER-1","status":"Delivered"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Delivered", svc.status)

	resp, _ = post(t, srv, "/orders/shipment-status", `{"orderId":"ORDER-1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportAndGet(t *testing.T) {
	svc := &fakeService{page: &orders.Page{}, order: shippedOrder()}
	srv := newTestServer(t, svc)

	resp, out := get(t, srv, "/orders/export-orders?cursor=abc&limit=5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc", svc.cursor)
	assert.Equal(t, 5, svc.limit)
	assert.Equal(t, []any{}, out["items"])

	resp, _ = get(t, srv, "/orders/export-orders?limit=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out = get(t, srv, "/orders/ORDER-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ORDER-1", svc.orderID)
	assert.Equal(t, "ORDER-1", out["orderId"])

	svc.err = &fulfillment.Error{Kind: fulfillment.KindNotFound, Op: "get_order", Err: orders.ErrOrderNotFound}
	resp, _ = get(t, srv, "/orders/ORDER-2")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidIdempotencyKey(t *testing.T) {
	assert.True(t, validIdempotencyKey("checkout:42.a_b-c"))
	assert.False(t, validIdempotencyKey(""))
	assert.False(t, validIdempotencyKey(strings.Repeat("k", 256)))
	assert.True(t, validIdempotencyKey(strings.Repeat("k", 255)))
	assert.False(t, validIdempotencyKey("ключ"))
}

func TestNewRouter_Health(t *testing.T) {
	srv := httptest.NewServer(NewRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
