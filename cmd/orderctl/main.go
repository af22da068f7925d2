package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-order-fulfillment/internal/app"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operator tool for the order fulfilment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(cancelCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg config.Config
	log *slog.Logger
	db  *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := config.Load()
	log := logging.NewWithWriter(os.Stderr, "orderctl", cfg.LogLevel)
	db, err := postgres.Connect(ctx, cfg.PostgresDSN,
		postgres.WithMaxConns(4),
		postgres.WithApplicationName("orderctl"))
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

// withService runs fn against a fully wired saga. Notifications raised by
// fn are flushed to Kafka before returning.
func withService(ctx context.Context, fn func(context.Context, *fulfillment.Service) error) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.db.Close()

	rdb := redisx.New(e.cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(e.cfg.KafkaBrokers, orders.TopicOrderNotifications, 256, e.log)
	prod.Start(ctx)
	defer prod.WaitClosed()
	defer prod.Close()

	pub := &notify.Publisher{Queue: blockingQueue{prod}, Service: "orderctl", Log: e.log}
	return fn(ctx, app.NewFulfillment(e.cfg, e.db, rdb, pub, e.log))
}

// blockingQueue waits for room in the producer buffer instead of dropping.
// A reconcile run can raise more notifications than the buffer holds, and a
// CLI has no request latency to protect.
type blockingQueue struct{ p *kafkax.Producer }

func (q blockingQueue) TryPublish(key, value []byte, headers ...kafkago.Header) bool {
	q.p.Publish(key, value, headers...)
	return true
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			applied, err := postgres.Migrate(cmd.Context(), e.db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Retry shipment creation for orders stuck without a shipment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *fulfillment.Service) error {
				rep, err := svc.Reconcile(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d retried=%d shipped=%d failed=%d skipped=%d\n",
					rep.Scanned, rep.Retried, len(rep.Shipped), len(rep.Failed), len(rep.Skipped))
				for _, id := range rep.Failed {
					fmt.Fprintf(cmd.OutOrStdout(), "failed  %s\n", id)
				}
				for _, id := range rep.Skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "skipped %s (carrier rejected, needs manual fix)\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum orders to examine")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel an order and its carrier shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *fulfillment.Service) error {
				o, err := svc.CancelOrder(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", o.OrderID, o.Status)
				return nil
			})
		},
	}
}
