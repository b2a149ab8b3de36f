package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/rs/zerolog"
)

const maxBackoff = 30 * time.Second

var errRedeliver = errors.New("broadcast failed, resuming from last committed offset")

// Broadcaster is the part of the notice service the consumer drives.
type Broadcaster interface {
	Broadcast(ctx context.Context, req model.NoticeRequest) (model.NoticeSummary, []model.NoticeResult, error)
}

// Consumer turns Kafka messages into broadcasts using a consumer group.
type Consumer struct {
	topic         string
	consumerGroup sarama.ConsumerGroup
	broadcaster   Broadcaster
	permanent     func(error) bool
	log           zerolog.Logger
	minBackoff    time.Duration
	// redeliver is set when a claim stopped on a transient failure.
	redeliver atomic.Bool
}

// NewConsumer builds a Consumer. permanent reports broadcast errors that retrying cannot
// fix; those messages are marked and skipped. A nil permanent treats every error as transient.
func NewConsumer(topic string, group sarama.ConsumerGroup, b Broadcaster, permanent func(error) bool, log zerolog.Logger) *Consumer {
	if permanent == nil {
		permanent = func(error) bool { return false }
	}
	return &Consumer{
		topic:         topic,
		consumerGroup: group,
		broadcaster:   b,
		permanent:     permanent,
		log:           log,
		minBackoff:    time.Second,
	}
}

// NewConsumerGroup dials brokers with the settings the relay consumes with.
func NewConsumerGroup(brokers []string, group string) (sarama.ConsumerGroup, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	return sarama.NewConsumerGroup(brokers, group, cfg)
}

// Start consumes until ctx is cancelled or the group is closed.
func (c *Consumer) Start(ctx context.Context) error {
	defer func() {
		if err := c.consumerGroup.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close consumer group")
		}
	}()

	c.log.Info().Str("topic", c.topic).Msg("kafka consumer started")

	backoff := c.minBackoff
	for {
		err := c.consumerGroup.Consume(ctx, []string{c.topic}, c)
		if ctx.Err() != nil {
			c.log.Info().Msg("kafka consumer stopping")
			return ctx.Err()
		}
		if err == nil {
			if !c.redeliver.Swap(false) {
				backoff = c.minBackoff
				continue
			}
			err = errRedeliver
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return err
		}
		c.log.Error().Err(err).Dur("backoff", backoff).Msg("consume messages")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Setup logs partition assignment.
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	for topic, partitions := range session.Claims() {
		c.log.Info().Str("topic", topic).Ints32("partitions", partitions).Msg("partition assignment")
	}
	return nil
}

// Cleanup is called once the session ends.
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	c.log.Debug().Msg("kafka session cleanup complete")
	return nil
}

// ConsumeClaim broadcasts every message of one partition. A transient broadcast failure
// ends the claim without marking, since offsets commit cumulatively and a later mark would
// skip the failed message; the next session starts again from it.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.log.Debug().
			Str("topic", message.Topic).
			Int32("partition", message.Partition).
			Int64("offset", message.Offset).
			Msg("message received")

		var req model.NoticeRequest
		if err := json.Unmarshal(message.Value, &req); err != nil {
			c.log.Error().Err(err).Int64("offset", message.Offset).Msg("decode notice")
			session.MarkMessage(message, "")
			continue
		}

		summary, _, err := c.broadcaster.Broadcast(session.Context(), req)
		if err != nil {
			if c.permanent(err) {
				c.log.Warn().Err(err).Int64("offset", message.Offset).Msg("dropping notice")
				session.MarkMessage(message, "")
				continue
			}
			c.log.Error().Err(err).Int64("offset", message.Offset).Msg("broadcast notice")
			c.redeliver.Store(true)
			return fmt.Errorf("broadcast offset %d: %w", message.Offset, err)
		}
		c.log.Info().
			Int("sent", summary.SendNum).
			Int("success", summary.SuccessNum).
			Int("streamed", summary.Streamed).
			Msg("notice from kafka broadcast")
		session.MarkMessage(message, "")
	}
	return nil
}
