package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishMatches(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher("matches", w, zap.NewNop())
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.PublishMatches(context.Background(), []MatchEvent{
		{MatchID: 1, InstrumentID: 7, MakerOrderID: 10, TakerOrderID: 11, Price: 10000, Amount: 30, ExecutedAt: at},
		{MatchID: 2, InstrumentID: 7, MakerOrderID: 12, TakerOrderID: 11, Price: 10000, Amount: 5, ExecutedAt: at},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "7", string(w.msgs[0].Key))

	var ev MatchEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, int64(12), ev.MakerOrderID)
	assert.Equal(t, int64(5), ev.Amount)

	require.NoError(t, p.PublishMatches(context.Background(), nil))
	assert.Len(t, w.msgs, 2)
}

func TestPublishErrorsAndClose(t *testing.T) {
	w := &fakeWriter{err: fmt.Errorf("broker down")}
	p := newKafkaPublisher("matches", w, zap.NewNop())
	err := p.PublishMatches(context.Background(), []MatchEvent{{InstrumentID: 1}})
	assert.ErrorContains(t, err, "broker down")

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Error(t, p.PublishMatches(context.Background(), []MatchEvent{{InstrumentID: 1}}))
}

func TestNewKafkaPublisherCompression(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "matches", &KafkaPublisherConfig{Compression: "gzip"}, zap.NewNop())
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.Gzip, w.Compression)
	assert.Equal(t, "matches", w.Topic)
}
