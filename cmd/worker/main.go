// worker archives the moderation and security ledger stream from Kafka into Loki.
// Set KAFKA_BROKERS, LEDGER_EVENTS_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"account-lifecycle/internal/config"
	"account-lifecycle/internal/platform/logging"
	"account-lifecycle/internal/telemetry/loki"
)

const (
	maxBatch    = 200
	batchLinger = 500 * time.Millisecond
	pushTimeout = 10 * time.Second
	retryDelay  = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stdout).With().Str("component", "ledger-worker").Logger()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Fatal().Msg("KAFKA_BROKERS is required")
	}
	archive, err := loki.NewClient(cfg.LokiURL, cfg.LokiTenant)
	if err != nil {
		logger.Fatal().Err(err).Msg("LOKI_URL is required")
	}
	topic := cfg.LedgerEventsTopic
	groupID := cfg.KafkaGroupID + "-ledger-archive"

	// Offsets are committed explicitly once a batch is in Loki.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("topic", topic).Str("group", groupID).Str("loki", cfg.LokiURL).Msg("consuming")

	for {
		batch, err := fetchBatch(ctx, reader)
		if len(batch) == 0 {
			if ctx.Err() != nil {
				logger.Info().Msg("stopped")
				return
			}
			logger.Error().Err(err).Msg("kafka fetch")
			continue
		}
		archiveBatch(ctx, reader, archive, batch, logger)
	}
}

// fetchBatch blocks for the first message, then takes whatever else arrives within batchLinger.
func fetchBatch(ctx context.Context, reader *kafka.Reader) ([]kafka.Message, error) {
	first, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}
	lingerCtx, cancel := context.WithTimeout(ctx, batchLinger)
	defer cancel()
	for len(batch) < maxBatch {
		msg, err := reader.FetchMessage(lingerCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// archiveBatch pushes until Loki accepts the batch, then commits its offsets. On shutdown the batch
// stays uncommitted and is redelivered to the next consumer.
func archiveBatch(ctx context.Context, reader *kafka.Reader, archive *loki.Client, batch []kafka.Message, logger zerolog.Logger) {
	raws := make([][]byte, len(batch))
	for i, m := range batch {
		raws[i] = m.Value
	}
	last := batch[len(batch)-1]
	for {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := archive.PushEvents(pushCtx, raws)
		cancel()
		if err == nil {
			break
		}
		logger.Error().Err(err).Int("events", len(raws)).Int64("last_offset", last.Offset).Msg("loki push")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
	if err := reader.CommitMessages(ctx, batch...); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Int64("last_offset", last.Offset).Msg("kafka commit")
		return
	}
	logger.Debug().Int("events", len(batch)).Int64("last_offset", last.Offset).Msg("archived")
}
