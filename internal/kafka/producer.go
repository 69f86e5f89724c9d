package kafka

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/club-ranklist/internal/domain"
)

// Publisher publishes stat records with an async producer
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
	sent     atomic.Int64
	failed   atomic.Int64
}

// NewPublisher connects an async producer to the brokers
func NewPublisher(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Flush.Messages = 100
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewPublisherWithProducer(producer, topic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *Publisher {
	p := &Publisher{producer: producer, topic: topic, logger: logger}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for range producer.Successes() {
			p.sent.Add(1)
		}
	}()
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.failed.Add(1)
			p.logger.Error("producer error", "error", err)
		}
	}()
	return p
}

// Publish queues a record. Records are keyed by user so one user's stats stay ordered.
func (p *Publisher) Publish(record domain.StatRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding stat record: %w", err)
	}
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(record.UserID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

// Close flushes pending records and returns the sent and failed counts
func (p *Publisher) Close() (sent, failed int64) {
	p.producer.AsyncClose()
	p.wg.Wait()
	return p.sent.Load(), p.failed.Load()
}
