package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/pkg/models"
)

const (
	DefaultObservationsTopic    = "observations"
	DefaultRecommendationsTopic = "recommendations"
	dlqSuffix                   = "-dlq"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Stats() kafka.ReaderStats
	Close() error
}

// ObservationHandler records one ingested observation.
type ObservationHandler func(ctx context.Context, event models.ObservationEvent) error

// MessageBus moves observations in and recommendation batches out over Kafka.
type MessageBus struct {
	observations     MessageReader
	observationsOut  MessageWriter
	recommendations  MessageWriter
	dlqWriter        MessageWriter
	observationTopic string
	maxRetries       int
	baseDelay        time.Duration
	logger           *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	obsTopic := cfg.Kafka.Topics.Observations
	if obsTopic == "" {
		obsTopic = DefaultObservationsTopic
	}
	recTopic := cfg.Kafka.Topics.Recommendations
	if recTopic == "" {
		recTopic = DefaultRecommendationsTopic
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          obsTopic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // Key by campaign so one campaign stays ordered
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		}
	}

	bus := NewMessageBusWith(reader, newWriter(obsTopic), newWriter(recTopic), newWriter(obsTopic+dlqSuffix), logger)
	bus.observationTopic = obsTopic
	if cfg.Kafka.MaxRetries > 0 {
		bus.maxRetries = cfg.Kafka.MaxRetries
	}
	return bus, nil
}

// NewMessageBusWith assembles a bus from existing readers and writers. Nil
// writers disable the corresponding output.
func NewMessageBusWith(observations MessageReader, observationsOut, recommendations, dlq MessageWriter, logger *logrus.Logger) *MessageBus {
	return &MessageBus{
		observations:     observations,
		observationsOut:  observationsOut,
		recommendations:  recommendations,
		dlqWriter:        dlq,
		observationTopic: DefaultObservationsTopic,
		maxRetries:       3,
		baseDelay:        time.Second,
		logger:           logger,
	}
}

// SetRetryPolicy overrides the retry count and the base of the exponential
// backoff between attempts.
func (mb *MessageBus) SetRetryPolicy(maxRetries int, baseDelay time.Duration) {
	mb.maxRetries = maxRetries
	mb.baseDelay = baseDelay
}

// PublishObservation queues a measured record for asynchronous ingestion.
func (mb *MessageBus) PublishObservation(ctx context.Context, campaignID uuid.UUID, record models.ObservationRequest) error {
	if mb.observationsOut == nil {
		return errors.New("kafka: observation producer not configured")
	}
	event := models.ObservationEvent{
		CampaignID: campaignID,
		Record:     record,
		Timestamp:  time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal observation event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.observationsOut.WriteMessages(ctx, kafka.Message{
		Key:   []byte(campaignID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "campaign_id", Value: []byte(campaignID.String())},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}); err != nil {
		mb.logger.WithError(err).WithField("campaign_id", campaignID).Error("Failed to publish observation to Kafka")
		return fmt.Errorf("failed to write observation to Kafka: %w", err)
	}
	return nil
}

// PublishRecommendations announces a generated batch.
func (mb *MessageBus) PublishRecommendations(ctx context.Context, event models.RecommendationEvent) error {
	if mb.recommendations == nil {
		return nil
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.recommendations.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CampaignID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "campaign_id", Value: []byte(event.CampaignID.String())},
			{Key: "candidates", Value: []byte(fmt.Sprint(len(event.Candidates)))},
		},
	}); err != nil {
		mb.logger.WithError(err).WithField("campaign_id", event.CampaignID).Error("Failed to publish recommendations to Kafka")
		return fmt.Errorf("failed to write recommendations to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"campaign_id": event.CampaignID,
		"candidates":  len(event.Candidates),
	}).Debug("Recommendations published to Kafka")
	return nil
}

// ConsumeObservations reads observation events until ctx is cancelled.
// Events that still fail after the retries go to the dead letter topic.
func (mb *MessageBus) ConsumeObservations(ctx context.Context, handler ObservationHandler) error {
	if mb.observations == nil {
		return errors.New("kafka: observation consumer not configured")
	}
	for {
		message, err := mb.observations.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		var event models.ObservationEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			mb.logger.WithError(err).Error("Failed to unmarshal observation event")
			if dlqErr := mb.sendToDLQ(ctx, message.Value, uuid.Nil, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
			continue
		}

		if err := mb.processWithRetry(ctx, event, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).WithField("campaign_id", event.CampaignID).Error("Failed to process observation")
			if dlqErr := mb.sendToDLQ(ctx, message.Value, event.CampaignID, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event models.ObservationEvent, handler ObservationHandler) error {
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"campaign_id": event.CampaignID,
				"attempt":     attempt,
				"delay":       delay,
			}).Info("Retrying observation")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		err := handler(ctx, event)
		if err == nil {
			return nil
		}

		// A malformed record fails the same way every time.
		var invalid *models.InvalidParameterError
		if errors.As(err, &invalid) || errors.Is(err, models.ErrCampaignNotFound) {
			return err
		}

		mb.logger.WithError(err).WithFields(logrus.Fields{
			"campaign_id": event.CampaignID,
			"attempt":     attempt,
		}).Warn("Observation processing failed")

		if attempt == mb.maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, original []byte, campaignID uuid.UUID, cause error) error {
	if mb.dlqWriter == nil {
		return nil
	}
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(original),
		"error":            cause.Error(),
		"dlq_timestamp":    time.Now().UTC(),
	}
	if !json.Valid(original) {
		dlqMessage["original_message"] = string(original)
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(campaignID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.observationTopic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"error":       cause.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error

	for name, w := range map[string]MessageWriter{
		"observation producer":    mb.observationsOut,
		"recommendation producer": mb.recommendations,
		"DLQ writer":              mb.dlqWriter,
	} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
	}

	if mb.observations != nil {
		if err := mb.observations.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errs)
	}

	return nil
}

// GetMetrics returns consumer statistics for monitoring.
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	if mb.observations == nil {
		return map[string]interface{}{}
	}
	stats := mb.observations.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
