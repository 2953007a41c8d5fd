// Package kafka carries activity events through a Kafka topic: the
// publisher feeds it from the engines and the consumer drains it in
// batches into the activity feed.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
)

// maxAttempts is how often a batch is offered to the handler before it is dropped
const maxAttempts = 2

// EventHandler processes batches of activity events
type EventHandler interface {
	RecordBatch(ctx context.Context, events []domain.ActivityEvent) error
}

// Consumer drains the activity topic into an EventHandler. Offsets are
// marked only once the batch holding a message has been handled, so a
// restart redelivers anything unrecorded; the handler must be idempotent
// on event id.
type Consumer struct {
	config  *config.KafkaConfig
	handler EventHandler
	logger  *slog.Logger
	group   sarama.ConsumerGroup
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer joins the configured consumer group
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("joining consumer group %s: %w", cfg.GroupID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger.With("group_id", cfg.GroupID, "topic", cfg.Topic),
		group:   group,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start runs the consume loop and waits for the first session
func (c *Consumer) Start() error {
	ready := make(chan struct{})
	var once sync.Once
	h := &claimHandler{consumer: c, onSetup: func() { once.Do(func() { close(ready) }) }}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for c.ctx.Err() == nil {
			err := c.group.Consume(c.ctx, []string{c.config.Topic}, h)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.Error("consume session ended", "error", err)
				select {
				case <-c.ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	select {
	case <-ready:
		c.logger.Info("activity consumer ready")
		return nil
	case <-time.After(30 * time.Second):
		c.cancel()
		c.wg.Wait()
		return errors.Join(errors.New("timed out waiting for consumer group session"), c.group.Close())
	}
}

// Stop ends the current session and leaves the group
func (c *Consumer) Stop() error {
	c.logger.Info("stopping activity consumer")
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// claimHandler implements sarama.ConsumerGroupHandler
type claimHandler struct {
	consumer *Consumer
	onSetup  func()
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.onSetup()
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	b := newBatcher(h.consumer.handler, cfg.BatchSize, h.consumer.logger)
	b.mark = func(msg *sarama.ConsumerMessage) { session.MarkMessage(msg, "") }

	ticker := time.NewTicker(cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-session.Context().Done():
			b.flush()
			return nil
		case <-ticker.C:
			b.flush()
		case msg, ok := <-claim.Messages():
			if !ok {
				b.flush()
				return nil
			}
			event, err := decodeEvent(msg.Value)
			if err != nil {
				h.consumer.logger.Warn("skipping activity message",
					"error", err,
					"partition", msg.Partition,
					"offset", msg.Offset,
				)
				b.skip(msg)
				continue
			}
			b.add(event, msg)
		}
	}
}

// batcher accumulates the events of one partition claim. last is the
// newest message covered by the pending batch; it is marked once the batch
// is handled or given up on.
type batcher struct {
	handler  EventHandler
	size     int
	logger   *slog.Logger
	mark     func(*sarama.ConsumerMessage)
	events   []domain.ActivityEvent
	last     *sarama.ConsumerMessage
	attempts int
}

func newBatcher(handler EventHandler, size int, logger *slog.Logger) *batcher {
	return &batcher{
		handler: handler,
		size:    size,
		logger:  logger,
		mark:    func(*sarama.ConsumerMessage) {},
		events:  make([]domain.ActivityEvent, 0, size),
	}
}

// add appends an event and reports whether the batch was flushed
func (b *batcher) add(e domain.ActivityEvent, msg *sarama.ConsumerMessage) bool {
	b.events = append(b.events, e)
	b.last = msg
	if len(b.events) < b.size {
		return false
	}
	b.flush()
	return true
}

// skip advances past an undecodable message
func (b *batcher) skip(msg *sarama.ConsumerMessage) {
	if len(b.events) == 0 {
		b.mark(msg)
		return
	}
	b.last = msg
}

func (b *batcher) flush() {
	if len(b.events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.attempts++
	if err := b.handler.RecordBatch(ctx, b.events); err != nil {
		if b.attempts < maxAttempts {
			b.logger.Warn("activity batch failed, will retry", "error", err, "batch_size", len(b.events))
			return
		}
		b.logger.Error("dropping activity batch", "error", err, "batch_size", len(b.events), "attempts", b.attempts)
	} else {
		b.logger.Debug("recorded activity batch", "batch_size", len(b.events))
	}

	if b.last != nil {
		b.mark(b.last)
	}
	b.events = make([]domain.ActivityEvent, 0, b.size)
	b.last = nil
	b.attempts = 0
}

func decodeEvent(data []byte) (domain.ActivityEvent, error) {
	var event domain.ActivityEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("unmarshaling event: %w", err)
	}
	if event.ID == "" || event.Type == "" || event.Topic == "" {
		return event, fmt.Errorf("incomplete event id=%q type=%q topic=%q", event.ID, event.Type, event.Topic)
	}
	return event, nil
}
