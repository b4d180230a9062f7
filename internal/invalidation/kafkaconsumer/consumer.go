// Package kafkaconsumer applies layer change events from Kafka to the
// feature-info cache.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geoportal-viewer/internal/cache"
	"github.com/mohammed-shakir/geoportal-viewer/internal/cache/keys"
	obs "github.com/mohammed-shakir/geoportal-viewer/internal/core/observability"
	"github.com/mohammed-shakir/geoportal-viewer/internal/invalidation"
	mylog "github.com/mohammed-shakir/geoportal-viewer/internal/logger"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	RetryBackoff        time.Duration
	InitialOffsetOldest bool
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "layer-changes"
	}
	if c.GroupID == "" {
		c.GroupID = "geoportal-cache"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  cache.PrefixDeleter
}

func New(cfg Config, logger *slog.Logger, c cache.PrefixDeleter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "kafka_consumer"),
		cache:  c,
	}
}

// Start consumes layer change events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache")
	}
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafkaconsumer: no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	return c.run(ctx, group)
}

func (c *Consumer) run(ctx context.Context, group sarama.ConsumerGroup) error {
	handler := c.handler()
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	c.logger.Info("layer change consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.Error("consumer error", "topic", c.cfg.Topic, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("layer change consumer shutting down")
			return nil
		}
	}
}

// ProcessOne purges the cached answers of the changed layer. Malformed
// events are logged and skipped; a failed purge is returned so the message
// is not marked and gets redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping layer change event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	n, err := c.cache.DelPrefix(ctx, keys.LayerPrefix(ev.Layer))
	obs.ObserveInvalidation(ev.Op, n, err)
	if err != nil {
		obs.IncKafkaConsumerError("purge")
		return fmt.Errorf("purge layer %q: %w", ev.Layer, err)
	}

	c.logger.InfoContext(ctx, "layer cache invalidated",
		"layer", ev.Layer, "op", ev.Op, "source", ev.Source, "keys", n)
	return nil
}
