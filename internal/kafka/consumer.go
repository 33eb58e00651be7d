package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/segmentio/kafka-go"
)

const (
	headerFailure = "failure"

	maxRetryBackoff = 30 * time.Second
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
	// MaxAttempts bounds handler calls per message. Default 5.
	MaxAttempts int
	// RetryBackoff is the first pause between attempts; it doubles each time.
	RetryBackoff time.Duration
	// DeadLetterTopic gets messages whose handler never succeeded.
	// Empty means they are logged and skipped.
	DeadLetterTopic string
}

// EventHandler must be idempotent: delivery is at-least-once.
type EventHandler interface {
	HandleEvent(ctx context.Context, e domain.OutboxEvent) error
}

type consumer struct {
	h           EventHandler
	maxAttempts int
	backoff     time.Duration
	dead        messageWriter
}

func newConsumer(h EventHandler, cfg ConsumerConfig, dead messageWriter) *consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 300 * time.Millisecond
	}
	return &consumer{h: h, maxAttempts: cfg.MaxAttempts, backoff: cfg.RetryBackoff, dead: dead}
}

func StartConsumer(ctx context.Context, h EventHandler, cfg ConsumerConfig) (*kafka.Reader, error) {
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})

	var dead messageWriter
	if cfg.DeadLetterTopic != "" {
		dead = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        cfg.DeadLetterTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	c := newConsumer(h, cfg, dead)

	logger.Info("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID,
		"max_attempts", c.maxAttempts, "dead_letter", cfg.DeadLetterTopic)

	go func() {
		defer r.Close()
		if dead != nil {
			defer dead.Close()
		}

		for {
			m, err := r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka fetch error", "err", err)
				if !sleep(ctx, c.backoff) {
					return
				}
				continue
			}
			logger.Debug("event fetched", "partition", m.Partition, "offset", m.Offset)

			// FetchMessage отдаёт следующее сообщение даже без коммита,
			// поэтому сообщение не отпускаем, пока не обработали или не отложили в DLQ
			if !c.process(ctx, m) {
				return
			}

			if err := r.CommitMessages(ctx, m); err != nil {
				logger.Warn("[kafka] commit failed", "err", err)
			}
		}
	}()
	return r, nil
}

// process reports whether m may be committed. Malformed messages are skipped,
// handler errors are retried in place with backoff and then dead-lettered.
// It returns false only when ctx is done.
func (c *consumer) process(ctx context.Context, m kafka.Message) bool {
	var e domain.OutboxEvent
	if err := json.Unmarshal(m.Value, &e); err != nil {
		logger.Warn("kafka invalid json. skip and commit", "err", err, "offset", m.Offset)
		return true
	}
	if e.Type == "" {
		e.Type = header(m, headerEventType)
	}

	delay := c.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.h.HandleEvent(ctx, e); err == nil {
			logger.Info("[kafka] event handled", "type", e.Type, "id", e.ID, "partition", m.Partition, "offset", m.Offset)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Warn("event handler failed", "type", e.Type, "id", e.ID, "attempt", attempt, "err", err)
		if attempt >= c.maxAttempts {
			break
		}
		if !sleep(ctx, delay) {
			return false
		}
		delay = nextBackoff(delay)
	}
	return c.deadLetter(ctx, m, e, err)
}

func (c *consumer) deadLetter(ctx context.Context, m kafka.Message, e domain.OutboxEvent, cause error) bool {
	if c.dead == nil {
		logger.Error("event dropped after retries", "type", e.Type, "id", e.ID, "offset", m.Offset, "err", cause)
		return true
	}

	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers, kafka.Header{Key: headerFailure, Value: []byte(cause.Error())})
	msg := kafka.Message{Key: m.Key, Value: m.Value, Headers: headers}

	delay := c.backoff
	for {
		err := c.dead.WriteMessages(ctx, msg)
		if err == nil {
			logger.Warn("event moved to dead letter topic", "type", e.Type, "id", e.ID, "offset", m.Offset, "err", cause)
			return true
		}
		logger.Warn("dead letter write failed", "id", e.ID, "err", err)
		if !sleep(ctx, delay) {
			return false
		}
		delay = nextBackoff(delay)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
