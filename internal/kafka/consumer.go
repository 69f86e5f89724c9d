package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// StatHandler stores batches of ingested stat records
type StatHandler interface {
	IngestBatch(ctx context.Context, batch domain.IngestBatch) (domain.IngestSummary, error)
}

// Consumer consumes solve-stat and attendance records from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       StatHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler StatHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Stats are upserts, so replaying from the oldest retained offset is safe.
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler StatHandler
	logger  *slog.Logger
	ready   chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches records from a partition. Offsets are marked once the batch
// holding them has been stored or dropped as permanently bad; a transient failure
// leaves them unmarked so the batch is redelivered.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]domain.StatRecord, 0, h.config.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(h.config.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() error {
		if last == nil {
			return nil
		}
		if err := h.store(batch); err != nil {
			h.logger.Error("failed to process batch", "error", err, "batch_size", len(batch))
			return err
		}
		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Unmarked records are redelivered after the rebalance.
			_ = processBatch()
			return nil

		case <-batchTimer.C:
			if err := processBatch(); err != nil {
				return err
			}
			batchTimer.Reset(h.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return processBatch()
			}
			last = message

			record, err := decodeRecord(message.Value)
			if err != nil {
				h.logger.Warn("skipping undecodable stat record",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			batch = append(batch, record)

			if len(batch) >= h.config.BatchSize {
				if err := processBatch(); err != nil {
					return err
				}
				batchTimer.Reset(h.config.BatchTimeout)
			}
		}
	}
}

// store writes records, splitting a batch that fails permanently so one bad
// record costs only itself.
func (h *consumerGroupHandler) store(records []domain.StatRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := h.ingest(records)
	if err == nil || !isPermanent(err) {
		return err
	}
	if len(records) == 1 {
		h.logger.Warn("dropping stat record",
			"error", err,
			"kind", records[0].Kind,
			"user_id", records[0].UserID,
			"event_id", records[0].EventID,
		)
		return nil
	}

	h.logger.Warn("batch rejected, storing records one at a time", "error", err, "batch_size", len(records))
	for i := range records {
		if err := h.store(records[i : i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (h *consumerGroupHandler) ingest(records []domain.StatRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := h.handler.IngestBatch(ctx, domain.IngestBatch{Records: records})
	if err != nil {
		return err
	}
	h.logger.Debug("processed batch",
		"batch_id", summary.BatchID,
		"batch_size", len(records),
		"rejected", summary.Rejected,
	)
	return nil
}

// isPermanent reports whether replaying the same records would fail again.
// SQLSTATE class 23 covers integrity constraint violations.
func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return errors.Is(err, domain.ErrInvalidRecord)
}

// decodeRecord parses one message value. Semantic validation is left to the handler.
func decodeRecord(value []byte) (domain.StatRecord, error) {
	var record domain.StatRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return record, fmt.Errorf("decoding stat record: %w", err)
	}
	if record.Kind == "" {
		return record, fmt.Errorf("decoding stat record: %w", domain.ErrInvalidRecord)
	}
	return record, nil
}
