package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

const testSecret = "test_key_secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore mirrors orders.Repo: optimistic versions, a unique idempotency key
// and deep copies on the way in and out.
type memStore struct {
	mu      sync.Mutex
	clock   *fakeClock
	byID    map[string]*orders.Order
	updates int
	// beforeUpdate runs with the lock held and may modify the stored row.
	beforeUpdate func(stored *orders.Order)
	// afterGet runs once, outside the lock, after the next Get has read its row.
	afterGet func()
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{clock: clock, byID: map[string]*orders.Order{}}
}

func (m *memStore) Insert(_ context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := o.Validate(); err != nil {
		return err
	}
	if _, ok := m.byID[o.OrderID]; ok {
		return fmt.Errorf("order %s exists", o.OrderID)
	}
	if o.IdempotencyKey != "" {
		for _, other := range m.byID {
			if other.IdempotencyKey == o.IdempotencyKey {
				return orders.ErrDuplicateOrder
			}
		}
	}
	o.Version = 1
	o.UpdatedAt = o.CreatedAt
	m.byID[o.OrderID] = o.Clone()
	return nil
}

// Get and Update fail on a done context, as a pgx query does.
func (m *memStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	o, ok := m.byID[id]
	if ok {
		o = o.Clone()
	}
	hook := m.afterGet
	m.afterGet = nil
	m.mu.Unlock()

	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	if hook != nil {
		hook()
	}
	return o, nil
}

func (m *memStore) GetByIdempotencyKey(_ context.Context, key string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.IdempotencyKey == key {
			return o.Clone(), nil
		}
	}
	return nil, orders.ErrOrderNotFound
}

func (m *memStore) Update(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	stored, ok := m.byID[o.OrderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(stored)
	}
	if stored.Version != o.Version {
		return orders.ErrVersionConflict
	}
	o.Version++
	o.UpdatedAt = m.clock.Now()
	m.byID[o.OrderID] = o.Clone()
	return nil
}

func (m *memStore) ListByStatus(_ context.Context, status orders.Status, _ string, limit int) (*orders.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*orders.Order
	for _, o := range m.byID {
		if o.Status == status {
			items = append(items, o.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].OrderID > items[j].OrderID })
	page := &orders.Page{Items: items}
	if limit > 0 && len(items) > limit {
		page.Items, page.HasMore = items[:limit], true
	}
	return page, nil
}

func (m *memStore) ListStale(_ context.Context, stages []orders.Stage, before time.Time, limit int) ([]*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*orders.Order
	for _, o := range m.byID {
		for _, st := range stages {
			if o.Stage == st && o.UpdatedAt.Before(before) {
				out = append(out, o.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memDirectory struct {
	users    map[string]orders.Customer
	products map[string]orders.Product
}

func (d *memDirectory) FindUser(_ context.Context, id string) (orders.Customer, error) {
	c, ok := d.users[id]
	if !ok {
		return orders.Customer{}, orders.ErrUserNotFound
	}
	return c, nil
}

func (d *memDirectory) FindProducts(_ context.Context, ids []string) (map[string]orders.Product, error) {
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := d.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type intentCall struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []intentCall
	err      error
	verifys  int
	onVerify func()
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, intentCall{amountMinor, currency, receipt, notes})
	if g.err != nil {
		return payment.Intent{}, g.err
	}
	return payment.Intent{ID: "order_gw_1", Entity: "order", Amount: amountMinor, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

func (g *fakeGateway) VerifySignature(o, p, sig string) bool {
	g.mu.Lock()
	g.verifys++
	hook := g.onVerify
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return payment.VerifySignature(o, p, sig, testSecret)
}

type fakeCarrier struct {
	mu      sync.Mutex
	creates []shipping.ShipmentRequest
	cancels []int64
	nextID  int64
	// createErrs are returned by successive CreateShipment calls; nil entries succeed.
	createErrs []error
	cancelErr  error
	onCreate   func(req shipping.ShipmentRequest)
	onCancel   func(id int64)
}

func (c *fakeCarrier) CreateShipment(_ context.Context, req shipping.ShipmentRequest) (shipping.Shipment, error) {
	c.mu.Lock()
	n := len(c.creates)
	c.creates = append(c.creates, req)
	var err error
	if n < len(c.createErrs) {
		err = c.createErrs[n]
	}
	c.nextID++
	id := 1000 + c.nextID
	hook := c.onCreate
	c.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return shipping.Shipment{}, err
	}
	return shipping.Shipment{CarrierOrderID: id, ShipmentID: id + 5000, TrackingID: fmt.Sprintf("AWB%d", id), Status: "NEW"}, nil
}

func (c *fakeCarrier) CancelShipment(_ context.Context, id int64) (shipping.CancelResult, error) {
	c.mu.Lock()
	hook := c.onCancel
	err := c.cancelErr
	if err == nil {
		c.cancels = append(c.cancels, id)
	}
	c.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if err != nil {
		return 0, err
	}
	return shipping.CancelOK, nil
}

func (c *fakeCarrier) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.creates)
}

func (c *fakeCarrier) cancelled() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.cancels...)
}

type notification struct {
	Event   string
	OrderID string
	Status  orders.Status
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(_ context.Context, event string, o *orders.Order) {
	r.mu.Lock()
	r.sent = append(r.sent, notification{event, o.OrderID, o.Status})
	r.mu.Unlock()
}

func (r *recordingNotifier) events() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdempotency) Lookup(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memIdempotency) Remember(_ context.Context, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; !ok {
		m.keys[key] = id
	}
	return nil
}

// memCache keeps the highest version per order, like redisx.StatusCache.
type memCache struct {
	mu       sync.Mutex
	items    map[string]*orders.Order
	versions map[string]int64
}

func newMemCache() *memCache {
	return &memCache{items: map[string]*orders.Order{}, versions: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, id string) (*orders.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.items[id]
	if !ok {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

func (c *memCache) Set(_ context.Context, id string, version int64, o *orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.versions[id]; ok && cur >= version {
		return nil
	}
	c.versions[id] = version
	c.items[id] = o.Clone()
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}

// expire drops the entry and its version, as a TTL expiry does.
func (c *memCache) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	delete(c.versions, id)
}

func (c *memCache) cached(id string) *orders.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id]
}

type harness struct {
	clock    *fakeClock
	store    *memStore
	dir      *memDirectory
	gateway  *fakeGateway
	carrier  *fakeCarrier
	notifier *recordingNotifier
	idem     *memIdempotency
	cache    *memCache
	svc      *Service
}

func newHarness(t *testing.T, mod ...func(*Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	h := &harness{
		clock: clock,
		store: newMemStore(clock),
		dir: &memDirectory{
			users: map[string]orders.Customer{
				"u1": {UserID: "u1", Name: "Asha Rao", Email: "asha@example.com", Phone: "9999999999"},
			},
			products: map[string]orders.Product{
				"p1": {ProductID: "p1", Name: "Mug", Price: decimal.NewFromInt(100)},
				"p2": {ProductID: "p2", Name: "Lamp", Price: decimal.NewFromInt(250)},
				"p3": {ProductID: "p3", Name: "Pen", Price: decimal.RequireFromString("19.99")},
			},
		},
		gateway:  &fakeGateway{},
		carrier:  &fakeCarrier{},
		notifier: &recordingNotifier{},
		idem:     &memIdempotency{keys: map[string]string{}},
		cache:    newMemCache(),
	}
	seq := 0
	opts := Options{
		ShipPrepaidImmediately: true,
		Now:                    clock.Now,
		NewOrderID: func() string {
			seq++
			return fmt.Sprintf("ORDER-%03d", seq)
		},
	}
	for _, m := range mod {
		m(&opts)
	}
	h.svc = NewService(Deps{
		Store:       h.store,
		Directory:   h.dir,
		Catalog:     h.dir,
		Gateway:     h.gateway,
		Carrier:     h.carrier,
		Notifier:    h.notifier,
		Idempotency: h.idem,
		Cache:       h.cache,
		Logger:      logging.Discard(),
	}, opts)
	return h
}

func (h *harness) stored(t *testing.T, id string) *orders.Order {
	t.Helper()
	o, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return o
}

func testAddress() *orders.Address {
	return &orders.Address{Street: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001"}
}

func codRequest() PlaceRequest {
	return PlaceRequest{
		UserID:  "u1",
		Address: testAddress(),
		Items: []LineRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		PaymentMethod: "COD",
	}
}

func prepaidRequest(valid bool) PlaceRequest {
	req := codRequest()
	req.PaymentMethod = "Prepaid"
	sig := payment.Sign("order_gw_1", "pay_1", testSecret)
	if !valid {
		sig = payment.Sign("order_gw_1", "pay_1", "someone_else")
	}
	req.Payment = &orders.PaymentDetails{GatewayOrderID: "order_gw_1", PaymentID: "pay_1", Signature: sig}
	return req
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
