package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
)

// OrderService is implemented by *fulfillment.Service.
type OrderService interface {
	CreatePaymentIntent(ctx context.Context, req fulfillment.IntentRequest) (payment.Intent, error)
	VerifyPayment(ctx context.Context, p fulfillment.PaymentProof) (bool, error)
	PlaceOrder(ctx context.Context, req fulfillment.PlaceRequest) (*fulfillment.PlaceResult, error)
	CancelOrder(ctx context.Context, orderID string) (*orders.Order, error)
	RetryShipment(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateShipmentStatus(ctx context.Context, orderID, status string) (*orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	ExportProcessing(ctx context.Context, cursor string, limit int) (*orders.Page, error)
}

type OrdersHandler struct {
	Svc OrderService
	Log *slog.Logger
	// Timeout bounds a saga run; carrier and gateway calls have their own.
	Timeout time.Duration
}

type errorBody struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Kind    string        `json:"kind"`
	Order   *orders.Order `json:"order,omitempty"`
}

type orderBody struct {
	Success    bool          `json:"success"`
	OrderID    string        `json:"orderId,omitempty"`
	TrackingID string        `json:"trackingId,omitempty"`
	Replayed   bool          `json:"replayed,omitempty"`
	Order      *orders.Order `json:"order"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/create-order", h.createIntent)
		r.Post("/verify-payment", h.verifyPayment)
		r.With(IdempotencyKey(h.Log)).Post("/place-order", h.placeOrder)
		r.Post("/cancel-order", h.cancelOrder)
		r.Post("/retry-shipment", h.retryShipment)
		r.Post("/shipment-status", h.shipmentStatus)
		r.Get("/export-orders", h.exportOrders)
		r.Get("/{orderId}", h.getOrder)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k fulfillment.Kind) int {
	switch k {
	case fulfillment.KindValidation:
		return http.StatusBadRequest
	case fulfillment.KindNotFound:
		return http.StatusNotFound
	case fulfillment.KindPaymentVerification:
		return http.StatusPaymentRequired
	case fulfillment.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case fulfillment.KindUpstreamRejected:
		return http.StatusUnprocessableEntity
	case fulfillment.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fulfillment.KindOf(err)
	code := statusFor(kind)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.Log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg, Kind: kind.String(), Order: fulfillment.OrderOf(err)})
}

func (h *OrdersHandler) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: fulfillment.KindValidation.String()})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := notify.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func (h *OrdersHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentReq
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "invalid json")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	intent, err := h.Svc.CreatePaymentIntent(ctx, fulfillment.IntentRequest{
		UserID:   req.UserID,
		Amount:   decimal.New(req.Amount, -2),
		Currency: req.Currency,
		Receipt:  req.Receipt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": intent})
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentProofReq
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "invalid json")
		return
	}
	ok, err := h.Svc.VerifyPayment(r.Context(), req.proof())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid payment signature"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var body PlaceOrderReq
	if err := decode(w, r, &body); err != nil {
		h.badRequest(w, "invalid json")
		return
	}
	req, err := body.toPlaceRequest(idempotencyKeyFrom(r.Context()))
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	if req.IdempotencyKey != "" && !validIdempotencyKey(req.IdempotencyKey) {
		h.badRequest(w, "invalid idempotencyKey")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Svc.PlaceOrder(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, orderBody{
		Success:    true,
		OrderID:    res.Order.OrderID,
		TrackingID: res.Order.TrackingID(),
		Replayed:   res.Replayed,
		Order:      res.Order,
	})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderCommand(w, r, h.Svc.CancelOrder)
}

func (h *OrdersHandler) retryShipment(w http.ResponseWriter, r *http.Request) {
	h.orderCommand(w, r, h.Svc.RetryShipment)
}

func (h *OrdersHandler) orderCommand(w http.ResponseWriter, r *http.Request, run func(context.Context, string) (*orders.Order, error)) {
	var req OrderIDReq
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "invalid json")
		return
	}
	if req.OrderID == "" {
		h.badRequest(w, "orderId is required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := run(ctx, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderBody{Success: true, OrderID: o.OrderID, TrackingID: o.TrackingID(), Order: o})
}

func (h *OrdersHandler) shipmentStatus(w http.ResponseWriter, r *http.Request) {
	var req ShipmentStatusReq
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, "invalid json")
		return
	}
	if req.OrderID == "" || req.Status == "" {
		h.badRequest(w, "orderId and status are required")
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Svc.UpdateShipmentStatus(ctx, req.OrderID, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderBody{Success: true, OrderID: o.OrderID, TrackingID: o.TrackingID(), Order: o})
}

func (h *OrdersHandler) exportOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.badRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	page, err := h.Svc.ExportProcessing(ctx, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

var _ OrderService = (*fulfillment.Service)(nil)
