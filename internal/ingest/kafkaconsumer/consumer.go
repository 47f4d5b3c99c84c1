// Package kafkaconsumer ingests GeoJSON features published to a Kafka topic
// into the feature store.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/geoswarm/internal/core/model"
	obs "github.com/mohammed-shakir/geoswarm/internal/core/observability"
	mylog "github.com/mohammed-shakir/geoswarm/internal/logger"
)

type Putter interface {
	Put(ctx context.Context, f *model.Feature) (string, error)
	Writable() bool
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  Putter
	dedupe *contentDedupe
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, store Putter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	zl := zerolog.Nop()
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		store:  store,
		dedupe: newContentDedupe(cfg.DedupeSize),
		zlog:   &zl,
	}
}

// Start consumes until ctx is done. Only the owner of the log can ingest.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing feature store")
	}
	if !c.store.Writable() {
		return model.ErrNotWritable
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

	base := mylog.WithComponent(context.Background(), "kafka_ingest")
	zl := mylog.Build(mylog.Config{Level: "info", Component: "kafka_ingest"}, nil)
	c.zlog = mylog.FromContext(base, &zl)

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka feature ingest starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka feature ingest shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne stores every feature carried by msg. Undecodable payloads and
// invalid features are logged and skipped; storage failures are returned so
// the message is not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	feats, err := model.DecodeFeatures(msg.Value)
	if err != nil {
		obs.IncIngest("decode_error")
		mylog.FromContext(ctx, c.zlog).Warn().
			Err(err).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable message")
		return nil
	}

	stored := 0
	for _, f := range feats {
		body, err := json.Marshal(f)
		if err != nil {
			obs.IncIngest("invalid")
			continue
		}
		if f.ID != "" && c.dedupe.seen(f.ID, body) {
			obs.IncIngest("duplicate")
			continue
		}

		q, err := c.store.Put(ctx, f)
		switch {
		case err == nil:
			c.dedupe.record(f.ID, body)
			stored++
			obs.IncIngest("ok")
			c.logger.Debug("feature ingested", "id", f.ID, "quadkey", q)
		case errors.Is(err, model.ErrMissingID), errors.Is(err, model.ErrUnsupportedGeometry):
			obs.IncIngest("invalid")
			mylog.FromContext(ctx, c.zlog).Warn().
				Err(err).
				Str("id", f.ID).
				Int64("offset", msg.Offset).
				Msg("skipping invalid feature")
		default:
			obs.IncIngest("error")
			return fmt.Errorf("store feature %q: %w", f.ID, err)
		}
	}

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "ingest").
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Int("features", len(feats)).
		Int("stored", stored).
		Msg("message ingested")
	return nil
}
