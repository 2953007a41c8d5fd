package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/legends-of-valor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

type fakeHandler struct {
	batches [][]domain.ActivityEvent
	fail    int
}

func (f *fakeHandler) RecordBatch(_ context.Context, events []domain.ActivityEvent) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("store unavailable")
	}
	f.batches = append(f.batches, events)
	return nil
}

func message(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "valor-activity", Offset: offset}
}

func newMarkingBatcher(h EventHandler, size int) (*batcher, *[]int64) {
	var marked []int64
	b := newBatcher(h, size, discard)
	b.mark = func(msg *sarama.ConsumerMessage) { marked = append(marked, msg.Offset) }
	return b, &marked
}

func event(id string) domain.ActivityEvent {
	return domain.ActivityEvent{ID: id, Type: domain.EventBidPlaced, Topic: domain.AuctionTopic("a1"), Timestamp: time.Unix(0, 0).UTC()}
}

func TestDecodeEvent(t *testing.T) {
	good, err := json.Marshal(event("e1"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "valid", data: good},
		{name: "not json", data: []byte("{"), wantErr: true},
		{name: "missing topic", data: []byte(`{"id":"e1","type":"bid_placed"}`), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, event("e1"), got)
		})
	}
}

func TestBatcherFlushesAtSize(t *testing.T) {
	h := &fakeHandler{}
	b, marked := newMarkingBatcher(h, 2)

	assert.False(t, b.add(event("e1"), message(1)))
	assert.Empty(t, *marked)
	assert.True(t, b.add(event("e2"), message(2)))
	assert.False(t, b.add(event("e3"), message(3)))
	require.Len(t, h.batches, 1)
	assert.Len(t, h.batches[0], 2)
	assert.Equal(t, []int64{2}, *marked)

	b.flush()
	require.Len(t, h.batches, 2)
	assert.Equal(t, "e3", h.batches[1][0].ID)
	assert.Equal(t, []int64{2, 3}, *marked)

	// flushing an empty batch is a no-op
	b.flush()
	assert.Len(t, h.batches, 2)
}

func TestBatcherRetriesThenDrops(t *testing.T) {
	h := &fakeHandler{fail: 1}
	b, marked := newMarkingBatcher(h, 10)

	b.add(event("e1"), message(1))
	b.flush()
	assert.Empty(t, h.batches)
	assert.Empty(t, *marked, "a failed batch must not be marked")

	b.add(event("e2"), message(2))
	b.flush()
	require.Len(t, h.batches, 1)
	assert.Len(t, h.batches[0], 2)
	assert.Equal(t, []int64{2}, *marked)

	h.fail = maxAttempts
	b.add(event("e3"), message(3))
	b.flush()
	b.flush()
	assert.Len(t, h.batches, 1)
	assert.Equal(t, []int64{2, 3}, *marked, "a dropped batch is marked so the partition moves on")
}

func TestBatcherSkipsUndecodableMessages(t *testing.T) {
	h := &fakeHandler{}
	b, marked := newMarkingBatcher(h, 10)

	b.skip(message(1))
	assert.Equal(t, []int64{1}, *marked)

	b.add(event("e2"), message(2))
	b.skip(message(3))
	assert.Equal(t, []int64{1}, *marked)
	b.flush()
	assert.Equal(t, []int64{1, 3}, *marked)
}

func TestPublisherKeysByFeedTopic(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewAsyncProducer(t, cfg)

	var sent *sarama.ProducerMessage
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})

	p := newPublisher(producer, "valor-activity", discard)
	p.Record(context.Background(), event("e1"))

	select {
	case <-producer.Successes():
	case <-time.After(time.Second):
		t.Fatal("event was not published")
	}
	require.NoError(t, p.Close())

	require.NotNil(t, sent)
	assert.Equal(t, "valor-activity", sent.Topic)
	key, err := sent.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "auction:a1", string(key))
}
