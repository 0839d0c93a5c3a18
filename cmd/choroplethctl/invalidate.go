package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/config"
	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation"
	"github.com/mohammed-shakir/choropleth-cache/internal/invalidation/publisher"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
)

func (c *cli) invalidateCmd() *cobra.Command {
	var (
		ev    invalidation.Event
		level string
	)
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish a boundary release event to the invalidation topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev.Version = 1
			if strings.TrimSpace(ev.ISO3) != "" {
				lvl, err := catalog.ParseLevel(level)
				if err != nil {
					return err
				}
				ev.Level = &lvl
			}
			ev.TS = time.Now().UTC()
			if err := ev.Validate(); err != nil {
				return err
			}
			p, err := publisher.New(config.SplitCSV(c.v.GetString("kafka_brokers")), c.v.GetString("kafka_topic"), logger.NopSlog())
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			part, off, err := p.Publish(cmd.Context(), ev)
			if err != nil {
				return err
			}
			return c.emit(cmd, map[string]any{"key": ev.DedupeKey(), "partition": part, "offset": off})
		},
	}
	cmd.Flags().StringVar(&ev.Op, "op", invalidation.OpRelease, "release or withdraw")
	cmd.Flags().StringVar(&ev.SourceKey, "source-key", "", "source key to invalidate")
	cmd.Flags().StringVar(&ev.ISO3, "iso3", "", "catalog country code")
	cmd.Flags().StringVar(&level, "level", "ADM0", "catalog administrative level")
	cmd.Flags().StringVar(&ev.Release, "release", "", "catalog release (default latest)")
	cmd.Flags().String("brokers", "localhost:9092", "comma separated Kafka brokers")
	cmd.Flags().String("topic", "boundary-releases", "invalidation topic")
	_ = c.v.BindPFlag("kafka_brokers", cmd.Flags().Lookup("brokers"))
	_ = c.v.BindPFlag("kafka_topic", cmd.Flags().Lookup("topic"))
	cmd.MarkFlagsMutuallyExclusive("source-key", "iso3")
	cmd.MarkFlagsOneRequired("source-key", "iso3")
	return cmd
}
