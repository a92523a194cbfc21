package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-lifecycle/internal/telemetry"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaProducer_DisabledWithoutBrokers(t *testing.T) {
	assert.Nil(t, NewKafkaProducer(nil, "ledger"))
	assert.Nil(t, NewKafkaProducer([]string{"localhost:9092"}, ""))

	var p *KafkaProducer
	assert.NoError(t, p.Emit(context.Background(), &telemetry.Event{}))
	assert.NoError(t, p.Close())
}

func TestEmit_KeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "ledger"}
	ev := &telemetry.Event{ID: "e1", EventType: "moderation.softban", AccountID: "acc-9", CreatedAt: time.Now().UTC()}

	require.NoError(t, p.Emit(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "acc-9", string(w.msgs[0].Key))

	var decoded telemetry.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "moderation.softban", decoded.EventType)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEmit_PropagatesWriteError(t *testing.T) {
	p := &KafkaProducer{writer: &fakeWriter{err: errors.New("leader not available")}}
	assert.Error(t, p.Emit(context.Background(), &telemetry.Event{AccountID: "a"}))
}
