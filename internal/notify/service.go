package notify

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Deduper is satisfied by *redisx.Dedup.
type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type Service struct {
	Dedup  Deduper
	Sender Sender
	Log    *slog.Logger
}

// HandleMessage is installed as the consumer handler. Returning an error
// leaves the offset uncommitted so the message is redelivered.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m, kafkax.HeaderEventType); t != "" && !handled(t) {
		return nil
	}
	env, err := kafkax.DecodeEnvelope[orders.Envelope](m.Value)
	if err != nil {
		// poison message: log and commit
		s.Log.Error("undecodable notification", "offset", m.Offset, "err", err)
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return nil
	}
	if !handled(env.EventType) {
		return nil
	}
	log := s.Log.With("order_id", env.CorrelationID, "event_id", env.EventID, "event_type", env.EventType)

	first, err := s.Dedup.First(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.NotificationPayload](env.Payload)
	if err != nil {
		log.Error("undecodable notification payload", "err", err)
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return nil
	}
	if p.CustomerEmail == "" {
		log.Warn("notification without recipient")
		return nil
	}
	subject, body, err := Compose(env.EventType, p)
	if err != nil {
		log.Error("compose notification", "err", err)
		return nil
	}

	if err := s.Sender.Send(ctx, p.CustomerEmail, subject, body); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		log.Warn("notification send failed", "err", err)
		if rerr := s.Dedup.Release(ctx, env.EventID); rerr != nil {
			log.Warn("dedup release failed", "err", rerr)
		}
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	log.Info("notification sent")
	return nil
}

func handled(eventType string) bool {
	return eventType == orders.EventOrderPlaced || eventType == orders.EventOrderCancelled
}
