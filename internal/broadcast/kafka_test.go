package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanWriter struct {
	sent chan []byte
}

func (w *chanWriter) Write(ctx context.Context, key, value []byte) error {
	w.sent <- value
	return nil
}

type sliceReader struct {
	msgs []kafka.Message
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	if m.Value == nil {
		return kafka.Message{}, errors.New("transient")
	}
	return m, nil
}

func (r *sliceReader) Close() error { return nil }

func TestKafkaBridge_ForwardWritesEnvelope(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	w := &chanWriter{sent: make(chan []byte, 1)}
	b := &KafkaBridge{hub: hub, writer: w, log: zerolog.Nop()}
	hub.SetRelay(b)

	hub.Publish(AccountTopic("u1"), NewEvent(TypeForceSignout, "u1", "", ForceSignout{UserID: "u1", Action: "purge"}))

	select {
	case raw := <-w.sent:
		var env envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, AccountTopic("u1"), env.Topic)
		assert.Equal(t, hub.Origin(), env.Event.Origin)
	case <-time.After(time.Second):
		t.Fatal("relay write not observed")
	}
}

func TestKafkaBridge_RunDeliversRemoteEvents(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	sub := hub.Subscribe(context.Background(), Subscriber{AccountID: "a1", Admin: true})

	remote, _ := json.Marshal(envelope{Topic: TopicModeration, Event: Event{ID: "r1", Type: TypeAdminUpdate, AdminID: "a2", Origin: "other"}})
	own, _ := json.Marshal(envelope{Topic: TopicModeration, Event: Event{ID: "o1", Type: TypeAdminUpdate, Origin: hub.Origin()}})
	reader := &sliceReader{msgs: []kafka.Message{{Value: []byte("{bad")}, {Value: own}, {Value: remote}}}
	b := &KafkaBridge{hub: hub, reader: reader, log: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	ev, ok := recv(t, sub)
	require.True(t, ok)
	assert.Equal(t, "r1", ev.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
