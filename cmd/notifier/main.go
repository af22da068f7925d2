package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName+"-notifier", cfg.LogLevel)
	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Dedup:  &redisx.Dedup{RDB: rdb, Service: "notifier"},
		Sender: newSender(cfg.Notifier, log),
		Log:    log,
	}

	nc := cfg.Notifier
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, nc.Group, orders.TopicOrderNotifications, nc.Workers, log)

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		log.Info("notifier consumer started", "group", nc.Group, "topic", orders.TopicOrderNotifications, "workers", nc.Workers)
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			log.Error("consumer exit", "err", err)
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: nc.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics listener stopped", "addr", nc.MetricsAddr, "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	if !drain(consumed, nc.DrainTimeout) {
		log.Warn("consumer did not drain in time", "timeout", nc.DrainTimeout)
	}
	_ = metricsSrv.Close()
}

// drain waits for done to close and reports whether it did before timeout.
func drain(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func newSender(nc config.NotifierConfig, log *slog.Logger) notify.Sender {
	if nc.SMTPAddr == "" {
		log.Warn("SMTP_ADDR not set, notifications are only logged")
		return &notify.LogSender{Log: log}
	}
	return &notify.SMTPSender{
		Addr:     nc.SMTPAddr,
		From:     nc.SMTPFrom,
		Username: nc.SMTPUsername,
		Password: nc.SMTPPassword,
	}
}
