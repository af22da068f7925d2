// Package app assembles the fulfilment service from configuration; shared by
// the API process and orderctl.
package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/shipping"
)

func NewFulfillment(cfg config.Config, db *pgxpool.Pool, rdb *redis.Client, notifier fulfillment.Notifier, log *slog.Logger) *fulfillment.Service {
	directory := &orders.DirectoryRepo{DB: db}

	gateway := payment.NewClient(payment.Options{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	})
	carrier := shipping.NewClient(shipping.Options{
		BaseURL:     cfg.Carrier.BaseURL,
		Credentials: shipping.Credentials{Email: cfg.Carrier.Email, Password: cfg.Carrier.Password},
		Timeout:     cfg.Carrier.Timeout,
		TokenTTL:    cfg.Carrier.TokenTTL,
		Tokens:      &redisx.TokenCache{RDB: rdb, Account: cfg.Carrier.Email},
		Logger:      log.With("upstream", "carrier"),
	})

	return fulfillment.NewService(fulfillment.Deps{
		Store:       &orders.Repo{DB: db},
		Directory:   directory,
		Catalog:     directory,
		Gateway:     gateway,
		Carrier:     carrier,
		Notifier:    notifier,
		Idempotency: &redisx.Idempotency{RDB: rdb},
		Cache:       &redisx.StatusCache[*orders.Order]{RDB: rdb, TTL: redisx.TTLStatusCache},
		Logger:      log,
	}, fulfillment.Options{
		DefaultCurrency:        cfg.Checkout.DefaultCurrency,
		DefaultCountry:         cfg.Checkout.DefaultCountry,
		PickupLocation:         cfg.Carrier.PickupLocation,
		ShipPrepaidImmediately: cfg.Checkout.ShipPrepaidImmediately,
	})
}
