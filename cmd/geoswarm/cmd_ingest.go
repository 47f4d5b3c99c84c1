package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/ingest/kafkaconsumer"
)

func newIngestCmd(cfg config.Config, g *globalFlags) *cobra.Command {
	var brokers []string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store features consumed from Kafka while replicating with peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(brokers) > 0 {
				cfg.Kafka.Brokers = brokers
			}
			n, err := openNode(cfg, g, "ingest")
			if err != nil {
				return err
			}
			defer func() { _ = n.Close() }()

			ctx := cmd.Context()
			c := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Kafka), n.logger, n.store)
			if n.store.Writable() {
				if err := n.startDiscovery(ctx, g.connect); err != nil {
					return err
				}
			}
			return c.Start(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "Kafka brokers, overrides KAFKA_BROKERS")
	cmd.Flags().StringVar(&cfg.Kafka.Topic, "topic", cfg.Kafka.Topic, "Kafka topic")
	cmd.Flags().StringVar(&cfg.Kafka.GroupID, "group", cfg.Kafka.GroupID, "Kafka consumer group")
	return cmd
}
