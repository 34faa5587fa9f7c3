package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"artifact-ingest/config"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_Send(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, "artifact_events")

	events := []json.RawMessage{
		json.RawMessage(`{"principal":{"hostname":"web-01"},"metadata":{"event_type":"FILE_READ"}}`),
		json.RawMessage(`{"principal":{"hostname":"db-02"},"metadata":{"event_type":"FILE_READ"}}`),
	}
	require.NoError(t, p.Send(context.Background(), "bodyfile", events))
	require.Len(t, w.messages, 2)
	assert.Equal(t, "web-01", string(w.messages[0].Key))
	assert.Equal(t, "db-02", string(w.messages[1].Key))
	assert.JSONEq(t, string(events[0]), string(w.messages[0].Value))
	assert.Equal(t, kafka.Header{Key: "artifact_kind", Value: []byte("bodyfile")}, w.messages[0].Headers[0])
	assert.Equal(t, "FILE_READ", string(w.messages[0].Headers[1].Value))

	require.NoError(t, p.Send(context.Background(), "bodyfile", nil))
	assert.Len(t, w.messages, 2)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, "kafka", p.Name())
}

func TestProducer_SendError(t *testing.T) {
	p := newProducer(&recordingWriter{err: errors.New("leader not available")}, "t")
	err := p.Send(context.Background(), "ps_axo", []json.RawMessage{json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestNewKafkaEventProducer_Disabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	p, err := NewKafkaEventProducer(lc, &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, p)
}
