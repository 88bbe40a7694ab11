package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	defaultQueueSize   = 1024
	defaultBatchSize   = 100
	auditBatchTimeout  = 10 * time.Millisecond
	auditWriteTimeout  = 5 * time.Second
	auditPublishBudget = 15 * time.Second
)

var (
	errQueueFull  = errors.New("audit: kafka queue full, entry dropped")
	errSinkClosed = errors.New("audit: kafka sink closed")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the audit publisher.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	QueueSize int
	BatchSize int
}

// KafkaSink publishes entries as JSON to a topic, keyed by entity type.
// Write only enqueues; a background publisher drains the queue in batches so
// a slow or unreachable broker never holds up the request that produced the
// entry. Entries are dropped when the queue is full.
type KafkaSink struct {
	writer    messageWriter
	queue     chan kafka.Message
	batchSize int
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewKafkaSink(cfg KafkaConfig, logger zerolog.Logger) *KafkaSink {
	return newKafkaSink(newKafkaWriter(cfg.Brokers, cfg.Topic), cfg.QueueSize, cfg.BatchSize, logger)
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           auditBatchTimeout,
		WriteTimeout:           auditWriteTimeout,
		MaxAttempts:            3,
	}
}

func newKafkaSink(w messageWriter, queueSize, batchSize int, logger zerolog.Logger) *KafkaSink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	s := &KafkaSink{
		writer:    w,
		queue:     make(chan kafka.Message, queueSize),
		batchSize: batchSize,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *KafkaSink) Write(_ context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.EntityType),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action)},
		},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSinkClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return errQueueFull
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for msg := range s.queue {
		batch := append(make([]kafka.Message, 0, s.batchSize), msg)
	fill:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		s.publish(batch)
	}
}

func (s *KafkaSink) publish(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), auditPublishBudget)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		s.logger.Warn().Err(err).Int("entries", len(batch)).Msg("audit entries not delivered to kafka")
	}
}

// Close stops accepting entries, flushes what is queued and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}

// SplitBrokers parses a comma separated broker list, dropping blanks.
func SplitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
