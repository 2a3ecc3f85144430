package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"soundfault/internal/config"
	"soundfault/internal/model"
	"soundfault/internal/normalize"
)

func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Job, logger *slog.Logger) {
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
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			job, ok := parseMessage(parser, m.Value, logger)
			if !ok {
				continue
			}
			if job.ID == "" && len(m.Key) > 0 {
				job.ID = string(m.Key)
			}
			SendNonBlocking(ctx, out, job, logger)
		}
	}()
}

func parseMessage(parser *Parser, value []byte, logger *slog.Logger) (model.Job, bool) {
	fields, err := parser.ParseLine(string(value))
	if err != nil || fields == nil {
		if err != nil && logger != nil {
			logger.Warn("kafka parse error", "err", err)
		}
		return model.Job{}, false
	}
	job, err := normalize.Normalize(*fields, "kafka")
	if err != nil {
		if logger != nil {
			logger.Warn("kafka normalize error", "err", err)
		}
		return model.Job{}, false
	}
	return job, true
}

// KafkaSink writes reports as JSON to the result topic, keyed by job id.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink returns nil when kafka is disabled or no result topic is set.
func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	if !cfg.Enabled || cfg.ResultTopic == "" {
		return nil
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ResultTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, report model.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(report.ID), Value: payload})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
