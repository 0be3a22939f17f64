package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/pkg/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

// fakeReader replays queued messages and then reports io.EOF.
type fakeReader struct {
	messages []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{Messages: 3, Lag: 1} }
func (r *fakeReader) Close() error             { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func observationMessage(t *testing.T, campaignID uuid.UUID, x float64) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.ObservationEvent{
		CampaignID: campaignID,
		Record: models.ObservationRequest{
			Params:     models.ParameterValues{"x": x},
			Objectives: models.ObjectiveValues{"y": x * 2},
		},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(campaignID.String()), Value: value}
}

func TestMessageBus_PublishRecommendations(t *testing.T) {
	out := &fakeWriter{}
	bus := NewMessageBusWith(nil, nil, out, nil, testLogger())
	campaignID := uuid.New()

	err := bus.PublishRecommendations(context.Background(), models.RecommendationEvent{
		CampaignID: campaignID,
		Candidates: []models.Candidate{{Slot: 0, Params: models.ParameterValues{"x": 0.3}}},
	})
	require.NoError(t, err)

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, campaignID.String(), string(msgs[0].Key))

	var event models.RecommendationEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	assert.Equal(t, campaignID, event.CampaignID)
	require.Len(t, event.Candidates, 1)
	assert.Equal(t, 0.3, event.Candidates[0].Params["x"])
}

func TestMessageBus_PublishWithoutWriters(t *testing.T) {
	bus := NewMessageBusWith(nil, nil, nil, nil, testLogger())
	assert.NoError(t, bus.PublishRecommendations(context.Background(), models.RecommendationEvent{}))
	assert.Error(t, bus.PublishObservation(context.Background(), uuid.New(), models.ObservationRequest{}))
	assert.Error(t, bus.ConsumeObservations(context.Background(), nil))
}

func TestMessageBus_PublishObservation(t *testing.T) {
	out := &fakeWriter{}
	bus := NewMessageBusWith(nil, out, nil, nil, testLogger())
	campaignID := uuid.New()

	require.NoError(t, bus.PublishObservation(context.Background(), campaignID, models.ObservationRequest{
		Params:     models.ParameterValues{"x": 1.0},
		Objectives: models.ObjectiveValues{"y": 2},
	}))

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	var event models.ObservationEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	assert.Equal(t, campaignID, event.CampaignID)
	assert.Equal(t, 2.0, event.Record.Objectives["y"])

	out.err = errors.New("broker down")
	assert.Error(t, bus.PublishObservation(context.Background(), campaignID, models.ObservationRequest{}))
}

func TestMessageBus_ConsumeObservations(t *testing.T) {
	campaignID := uuid.New()
	reader := &fakeReader{messages: []kafka.Message{
		observationMessage(t, campaignID, 1),
		{Value: []byte("{not json")},
		observationMessage(t, campaignID, 2),
		observationMessage(t, campaignID, 3),
	}}
	dlq := &fakeWriter{}
	bus := NewMessageBusWith(reader, nil, nil, dlq, testLogger())
	bus.SetRetryPolicy(2, time.Millisecond)

	attempts := map[float64]int{}
	var handled []float64
	handler := func(_ context.Context, event models.ObservationEvent) error {
		x := event.Record.Params["x"].(float64)
		attempts[x]++
		switch x {
		case 2:
			// transient: succeeds on the second attempt
			if attempts[x] == 1 {
				return errors.New("storage busy")
			}
		case 3:
			return errors.New("storage down")
		}
		handled = append(handled, x)
		return nil
	}

	require.NoError(t, bus.ConsumeObservations(context.Background(), handler))

	assert.Equal(t, []float64{1, 2}, handled)
	assert.Equal(t, 2, attempts[2])
	assert.Equal(t, 3, attempts[3])

	dead := dlq.Messages()
	require.Len(t, dead, 2)
	assert.Equal(t, "observations", string(dead[0].Headers[0].Value))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(dead[1].Value, &payload))
	assert.Contains(t, payload["error"], "storage down")
	assert.Equal(t, campaignID.String(), string(dead[1].Key))
}

func TestMessageBus_InvalidRecordsSkipRetries(t *testing.T) {
	campaignID := uuid.New()
	reader := &fakeReader{messages: []kafka.Message{observationMessage(t, campaignID, 1)}}
	dlq := &fakeWriter{}
	bus := NewMessageBusWith(reader, nil, nil, dlq, testLogger())
	bus.SetRetryPolicy(3, time.Millisecond)

	calls := 0
	err := bus.ConsumeObservations(context.Background(), func(context.Context, models.ObservationEvent) error {
		calls++
		return models.NewInvalidParameter("x", "out of bounds")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, dlq.Messages(), 1)
}

func TestMessageBus_ConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus := NewMessageBusWith(&fakeReader{}, nil, nil, nil, testLogger())
	assert.ErrorIs(t, bus.ConsumeObservations(ctx, func(context.Context, models.ObservationEvent) error { return nil }), context.Canceled)
}

func TestMessageBus_Metrics(t *testing.T) {
	bus := NewMessageBusWith(&fakeReader{}, nil, nil, nil, testLogger())
	metrics := bus.GetMetrics()
	assert.Equal(t, int64(3), metrics["messages_read"])
	assert.Equal(t, int64(1), metrics["consumer_lag"])
}

func TestMessageBus_Close(t *testing.T) {
	a, b, c := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	bus := NewMessageBusWith(&fakeReader{}, a, b, c, testLogger())
	require.NoError(t, bus.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.True(t, c.closed)
}

func TestNewMessageBus_RequiresBrokers(t *testing.T) {
	cfg := &config.Config{}
	_, err := NewMessageBus(cfg, testLogger())
	assert.Error(t, err)
}
