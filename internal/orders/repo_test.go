package orders_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/testutil"
)

func newOrder(id string, created time.Time) *orders.Order {
	o := &orders.Order{
		OrderID:         id,
		UserID:          "u1",
		CustomerName:    "Asha Rao",
		CustomerPhone:   "9999999999",
		CustomerEmail:   "asha@example.com",
		ShippingAddress: orders.Address{Street: "12 MG Road", City: "Bengaluru", State: "Karnataka", Country: "India", PostalCode: "560001"},
		Products: []orders.LineItem{
			{ProductID: "p2", Name: "Lamp", Quantity: 1, Price: decimal.RequireFromString("250.50")},
			{ProductID: "p1", Name: "Mug", Quantity: 2, Price: decimal.NewFromInt(100)},
		},
		TotalAmount:   decimal.RequireFromString("450.50"),
		Currency:      "INR",
		PaymentMethod: orders.PaymentCashOnDelivery,
		Stage:         orders.StageCreated,
		CreatedAt:     created,
	}
	if err := o.Advance(orders.StageShipmentPending); err != nil {
		panic(err)
	}
	return o
}

func TestRepo(t *testing.T) {
	pool := testutil.Postgres(t)
	repo := &orders.Repo{DB: pool}
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("insert and get", func(t *testing.T) {
		o := newOrder("ORDER-R1", base)
		o.IdempotencyKey = "key-r1"
		require.NoError(t, repo.Insert(ctx, o))
		assert.Equal(t, 1, o.Version)

		got, err := repo.Get(ctx, "ORDER-R1")
		require.NoError(t, err)
		assert.Equal(t, "key-r1", got.IdempotencyKey)
		assert.Equal(t, o.ShippingAddress, got.ShippingAddress)
		assert.True(t, got.TotalAmount.Equal(o.TotalAmount))
		assert.Equal(t, orders.StageShipmentPending, got.Stage)
		assert.Equal(t, orders.StatusProcessing, got.Status)
		assert.Nil(t, got.PaymentDetails)
		assert.Nil(t, got.ShipmentDetails)
		assert.True(t, base.Equal(got.CreatedAt))
		require.Len(t, got.Products, 2)
		assert.Equal(t, "p2", got.Products[0].ProductID, "items keep their position")
		assert.True(t, got.Products[0].Price.Equal(decimal.RequireFromString("250.50")))
		assert.NoError(t, got.Validate())

		byKey, err := repo.GetByIdempotencyKey(ctx, "key-r1")
		require.NoError(t, err)
		assert.Equal(t, "ORDER-R1", byKey.OrderID)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := repo.Get(ctx, "ORDER-NOPE")
		assert.True(t, errors.Is(err, orders.ErrOrderNotFound))
		_, err = repo.GetByIdempotencyKey(ctx, "nope")
		assert.True(t, errors.Is(err, orders.ErrOrderNotFound))
	})

	t.Run("duplicate idempotency key", func(t *testing.T) {
		o := newOrder("ORDER-R2", base)
		o.IdempotencyKey = "key-r1"
		err := repo.Insert(ctx, o)
		assert.True(t, errors.Is(err, orders.ErrDuplicateOrder), err)

		_, err = repo.Get(ctx, "ORDER-R2")
		assert.True(t, errors.Is(err, orders.ErrOrderNotFound), "nothing half-written")
	})

	t.Run("orders without a key do not collide", func(t *testing.T) {
		require.NoError(t, repo.Insert(ctx, newOrder("ORDER-R3", base)))
		require.NoError(t, repo.Insert(ctx, newOrder("ORDER-R4", base)))
	})

	t.Run("optimistic update", func(t *testing.T) {
		o, err := repo.Get(ctx, "ORDER-R3")
		require.NoError(t, err)
		stale := o.Clone()

		o.ShipmentDetails = &orders.ShipmentDetails{CarrierOrderID: 1001, ShipmentID: 6001, TrackingID: "AWB1001", Status: orders.ShipmentProcessing}
		require.NoError(t, o.Advance(orders.StageShipmentCreated))
		require.NoError(t, repo.Update(ctx, o))
		assert.Equal(t, 2, o.Version)

		got, err := repo.Get(ctx, "ORDER-R3")
		require.NoError(t, err)
		assert.Equal(t, o.ShipmentDetails, got.ShipmentDetails)
		assert.Equal(t, orders.StageShipmentCreated, got.Stage)
		assert.Equal(t, 2, got.Version)

		stale.LastError = "late writer"
		assert.True(t, errors.Is(repo.Update(ctx, stale), orders.ErrVersionConflict))

		ghost := newOrder("ORDER-GHOST", base)
		ghost.Version = 1
		assert.True(t, errors.Is(repo.Update(ctx, ghost), orders.ErrOrderNotFound))
	})

	t.Run("payment details round trip", func(t *testing.T) {
		o := newOrder("ORDER-R5", base)
		o.PaymentMethod = orders.PaymentPrepaid
		o.PaymentStatus = orders.PaymentPending
		o.PaymentDetails = &orders.PaymentDetails{GatewayOrderID: "order_gw", PaymentID: "pay_1", Signature: "sig"}
		require.NoError(t, repo.Insert(ctx, o))

		got, err := repo.Get(ctx, "ORDER-R5")
		require.NoError(t, err)
		assert.Equal(t, o.PaymentDetails, got.PaymentDetails)
		assert.Equal(t, orders.PaymentPending, got.PaymentStatus)
		assert.Equal(t, orders.PaymentPrepaid, got.PaymentMethod)
	})

	t.Run("list stale", func(t *testing.T) {
		list, err := repo.ListStale(ctx, []orders.Stage{orders.StageShipmentPending}, base.Add(time.Hour), 10)
		require.NoError(t, err)
		var ids []string
		for _, o := range list {
			ids = append(ids, o.OrderID)
			assert.Len(t, o.Products, 2)
		}
		assert.ElementsMatch(t, []string{"ORDER-R1", "ORDER-R4", "ORDER-R5"}, ids)

		list, err = repo.ListStale(ctx, []orders.Stage{orders.StageShipmentPending}, base, 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestRepo_ListByStatusPages(t *testing.T) {
	pool := testutil.Postgres(t)
	repo := &orders.Repo{DB: pool}
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, newOrder(fmt.Sprintf("ORDER-P%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	cancelled := newOrder("ORDER-PX", base.Add(time.Hour))
	require.NoError(t, cancelled.Advance(orders.StageCancelled))
	require.NoError(t, repo.Insert(ctx, cancelled))

	var (
		ids    []string
		cursor string
		pages  int
	)
	for {
		page, err := repo.ListByStatus(ctx, orders.StatusProcessing, cursor, 2)
		require.NoError(t, err)
		pages++
		for _, o := range page.Items {
			ids = append(ids, o.OrderID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"ORDER-P4", "ORDER-P3", "ORDER-P2", "ORDER-P1", "ORDER-P0"}, ids)

	_, err := repo.ListByStatus(ctx, orders.StatusProcessing, "%%%", 2)
	assert.Error(t, err)
}

func TestDirectoryRepo(t *testing.T) {
	pool := testutil.Postgres(t)
	dir := &orders.DirectoryRepo{DB: pool}
	ctx := context.Background()

	require.NoError(t, dir.UpsertUser(ctx, orders.Customer{UserID: "u1", Name: "Asha", Email: "asha@example.com", Phone: "1"}))
	require.NoError(t, dir.UpsertUser(ctx, orders.Customer{UserID: "u1", Name: "Asha Rao", Email: "asha@example.com", Phone: "2"}))
	c, err := dir.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, orders.Customer{UserID: "u1", Name: "Asha Rao", Email: "asha@example.com", Phone: "2"}, c)

	_, err = dir.FindUser(ctx, "ghost")
	assert.True(t, errors.Is(err, orders.ErrUserNotFound))

	require.NoError(t, dir.UpsertProduct(ctx, orders.Product{ProductID: "p1", Name: "Mug", Price: decimal.RequireFromString("99.90")}))
	require.NoError(t, dir.UpsertProduct(ctx, orders.Product{ProductID: "p2", Name: "Lamp", Price: decimal.NewFromInt(250)}))
	_, err = pool.Exec(ctx, `UPDATE products SET visible = FALSE WHERE product_id = 'p2'`)
	require.NoError(t, err)

	found, err := dir.FindProducts(ctx, []string{"p1", "p2", "p404"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found["p1"].Price.Equal(decimal.RequireFromString("99.9")))

	empty, err := dir.FindProducts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	applied, err := postgres.Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied, "migrations are applied once")
}
