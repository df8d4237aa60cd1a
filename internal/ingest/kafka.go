package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"sensornet/internal/config"
	"sensornet/internal/metrics"
	"sensornet/internal/model"
)

func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.RawReading, m *metrics.Metrics, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			reading, err := parser.ParseLine(string(msg.Value))
			if err != nil || reading == nil {
				if err != nil && logger != nil {
					logger.Warn("kafka payload rejected", "err", err)
				}
				continue
			}
			if reading.SensorID == "" && len(msg.Key) > 0 {
				reading.SensorID = string(msg.Key)
			}
			reading.Source = "kafka"
			SendNonBlocking(ctx, out, *reading, m, logger)
		}
	}()
}
