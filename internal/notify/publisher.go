// Package notify moves order notifications off the request path: the API
// publishes events to Kafka and the notifier process turns them into emails.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Queue is satisfied by *kafka.Producer.
type Queue interface {
	TryPublish(key, value []byte, headers ...kafkago.Header) bool
}

type Publisher struct {
	Queue   Queue
	Service string
	Log     *slog.Logger
}

// Notify enqueues a notification event and returns immediately. A full queue
// drops the event; the order outcome never depends on it.
func (p *Publisher) Notify(ctx context.Context, eventType string, o *orders.Order) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		TraceID:       traceID(ctx),
		CorrelationID: o.OrderID,
		Payload:       kafkax.MustMarshal(orders.NewNotificationPayload(o)),
	}
	ok := p.Queue.TryPublish(orders.PartitionKey(o.OrderID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(eventType, ev.EventVersion)...)
	if !ok {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		p.Log.Warn("notification queue full, event dropped", "order_id", o.OrderID, "event_type", eventType)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("queued").Inc()
}

type traceKey struct{}

// WithTraceID tags ctx so published events carry the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
