package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
)

// Publisher sends activity events to Kafka without blocking the caller
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewPublisher creates a new Kafka activity publisher
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, producerConfig())
	if err != nil {
		return nil, err
	}
	return newPublisher(producer, cfg.Topic, logger), nil
}

func producerConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true
	return saramaConfig
}

func newPublisher(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("failed to publish activity event", "error", err.Err, "topic", err.Msg.Topic)
		}
	}()
	return p
}

// Record enqueues an event. Events for one feed topic share a partition key
// so a consumer sees them in order. A full producer buffer drops the event.
func (p *Publisher) Record(_ context.Context, event domain.ActivityEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal activity event", "error", err, "type", event.Type)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Topic),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case p.producer.Input() <- msg:
	default:
		p.logger.Warn("activity producer buffer full, dropping event", "type", event.Type, "topic", event.Topic)
	}
}

// Close flushes buffered events and stops the producer
func (p *Publisher) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
