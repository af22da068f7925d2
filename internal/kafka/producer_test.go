package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
	gate   chan struct{}
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func TestProducer_FlushesQueueOnClose(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, 8, logging.Discard())
	p.Start(context.Background())

	for _, k := range []string{"a", "b", "c"} {
		require.True(t, p.TryPublish([]byte(k), []byte("v-"+k)))
	}
	p.Publish([]byte("d"), []byte("v-d"), EventHeaders("OrderPlaced", 1)...)
	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 4)
	assert.Equal(t, "a", string(w.msgs[0].Key))
	assert.Equal(t, "v-d", string(w.msgs[3].Value))
	assert.Equal(t, "OrderPlaced", HeaderValue(w.msgs[3], HeaderEventType))
	assert.Equal(t, "1", HeaderValue(w.msgs[3], HeaderEventVersion))
	assert.Empty(t, HeaderValue(w.msgs[0], HeaderEventType))
	assert.True(t, w.closed)
}

func TestProducer_TryPublishDoesNotBlockWhenFull(t *testing.T) {
	w := &memWriter{gate: make(chan struct{})}
	p := NewProducerWithWriter(w, 1, logging.Discard())
	// loop not started: the buffer holds exactly one message
	assert.True(t, p.TryPublish([]byte("k"), []byte("1")))
	assert.False(t, p.TryPublish([]byte("k"), []byte("2")))

	p.Start(context.Background())
	close(w.gate)
	p.Close()
	p.WaitClosed()
	assert.Len(t, w.msgs, 1)
}

func TestProducer_WriteErrorsDoNotStopTheLoop(t *testing.T) {
	w := &memWriter{err: errors.New("leader not available")}
	p := NewProducerWithWriter(w, 4, logging.Discard())
	p.Start(context.Background())
	p.Publish([]byte("k"), []byte("v"))
	p.Publish([]byte("k"), []byte("v"))
	p.Close()
	p.WaitClosed()
	assert.True(t, w.closed)
}

func TestDecodeEnvelope(t *testing.T) {
	type envelope struct {
		EventID string `json:"event_id"`
	}
	env, err := DecodeEnvelope[envelope]([]byte(`{"event_id":"e1"}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", env.EventID)

	_, err = DecodeEnvelope[envelope]([]byte("nope"))
	assert.ErrorContains(t, err, "decode envelope")
}

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	got, err := UnwrapPayload[payload](json.RawMessage(`{"order_id":"ORDER-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", got.OrderID)

	_, err = UnwrapPayload[payload](json.RawMessage(`[1]`))
	assert.Error(t, err)

	assert.Panics(t, func() { MustMarshal(make(chan int)) })
}
