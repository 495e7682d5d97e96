package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	// GroupID enables committed offsets; empty reads the topic without a group.
	GroupID string

	// HandlerRetries is how many times a failing message is redelivered to the
	// handler before Consume gives up on it.
	HandlerRetries int
	RetryBackoff   time.Duration
}

// Consumer feeds location updates to a handler one at a time. Updates are
// idempotent downstream, so redelivery after a failure is safe.
type Consumer struct {
	r       messageReader
	retries int
	backoff time.Duration
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxWait:           time.Second,
	}
	if cfg.GroupID != "" {
		rc.GroupTopics = []string{cfg.Topic}
	} else {
		rc.Topic = cfg.Topic
	}
	c := newConsumerWithReader(kafka.NewReader(rc))
	c.retries = cfg.HandlerRetries
	if cfg.RetryBackoff > 0 {
		c.backoff = cfg.RetryBackoff
	}
	return c
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, backoff: 500 * time.Millisecond}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error for a message that will never succeed, such
// as one that cannot be decoded. Consume logs it and commits past the message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// Consume commits each message once the handler accepts it or rejects it as
// permanent. A message still failing after the retries stops consumption
// without a commit, so it is redelivered after restart.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		err = c.handle(ctx, msg, handler)
		switch {
		case err == nil:
		case isPermanent(err):
			slog.Warn("skipping message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err.Error())
		default:
			return err
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler func(key, value []byte) error) error {
	for attempt := 0; ; attempt++ {
		err := handler(msg.Key, msg.Value)
		if err == nil || isPermanent(err) || attempt >= c.retries {
			return err
		}
		slog.Warn("retrying message", "offset", msg.Offset, "attempt", attempt+1, "error", err.Error())

		select {
		case <-ctx.Done():
			return err
		case <-time.After(c.backoff << attempt):
		}
	}
}
