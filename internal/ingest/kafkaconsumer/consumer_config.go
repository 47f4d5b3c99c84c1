package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds the number of feature ids remembered for
	// redelivery suppression.
	DedupeSize int
}

func FromConfig(k config.KafkaCfg) Config {
	return Config{
		Brokers:             k.Brokers,
		Topic:               k.Topic,
		GroupID:             k.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          8192,
	}
}
