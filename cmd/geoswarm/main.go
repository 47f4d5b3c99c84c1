package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geoswarm/internal/core/config"
	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
)

var Version = "dev"

type globalFlags struct {
	key      string
	dataDir  string
	logLevel string
	connect  []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.FromEnv()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "geoswarm",
		Short:         "Peer-replicated store of GeoJSON point features",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			observability.ExposeBuildInfo(Version)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.key, "key", "k", "", "hex public key of the log to replicate; empty opens or creates an owned log")
	pf.StringVarP(&g.dataDir, "data-dir", "f", cfg.DataDir, "directory holding the local log")
	pf.StringVar(&g.logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringSliceVar(&g.connect, "connect", nil, "peer addresses to dial directly")

	root.AddCommand(
		newSyncCmd(cfg, g),
		newPutCmd(cfg, g),
		newListCmd(cfg, g),
		newQueryCmd(cfg, g),
		newServeCmd(cfg, g),
		newIngestCmd(cfg, g),
	)
	return root
}
