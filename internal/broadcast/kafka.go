package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// envelope is the wire form of a relayed event.
type envelope struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

type messageWriter interface {
	Write(ctx context.Context, key, value []byte) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaBridge relays hub events between instances through one Kafka topic. Every instance reads
// the whole topic with its own consumer group and drops events it published itself.
type KafkaBridge struct {
	hub    *Hub
	writer messageWriter
	reader messageReader
	log    zerolog.Logger
}

// NewKafkaBridge wires hub to topic. writer is typically a *producer.KafkaProducer for the same topic.
func NewKafkaBridge(hub *Hub, writer messageWriter, brokers []string, topic, groupID string, log zerolog.Logger) *KafkaBridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID + "-" + hub.Origin(),
		StartOffset: kafka.LastOffset,
		MaxWait:     500 * time.Millisecond,
	})
	return &KafkaBridge{hub: hub, writer: writer, reader: reader, log: log}
}

// Forward publishes ev asynchronously. Failures are logged; the local delivery already happened.
func (b *KafkaBridge) Forward(topic string, ev Event) {
	payload, err := json.Marshal(envelope{Topic: topic, Event: ev})
	if err != nil {
		b.log.Error().Err(err).Str("event_type", ev.Type).Msg("broadcast: encode relay event")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.writer.Write(ctx, []byte(topic), payload); err != nil {
			b.log.Error().Err(err).Str("event_type", ev.Type).Msg("broadcast: relay event")
		}
	}()
}

// Run consumes relayed events until ctx is done.
func (b *KafkaBridge) Run(ctx context.Context) error {
	defer b.reader.Close()
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			b.log.Error().Err(err).Msg("broadcast: read relay event")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			b.log.Warn().Err(err).Msg("broadcast: skip malformed relay event")
			continue
		}
		b.hub.Deliver(env.Topic, env.Event)
	}
}
