package main

import (
	"github.com/spf13/cobra"

	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/batch"
	"github.com/dbehnke/dvbs2-tablegen/pkg/config"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
	"github.com/dbehnke/dvbs2-tablegen/pkg/web"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the parameter API, table downloads and batch progress",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("host", "H", "", "Server host (overrides config)")
	cmd.Flags().IntP("port", "p", 0, "Server port (overrides config)")
	cmd.Flags().Bool("compile", false, "Start a batch run over the configured selection on startup")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, func(cfg *config.Config) {
		if v, _ := cmd.Flags().GetString("host"); v != "" {
			cfg.Web.Host = v
		}
		if v, _ := cmd.Flags().GetInt("port"); v > 0 {
			cfg.Web.Port = v
		}
		cfg.Web.Enabled = true
	})
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("dvbs2-tablegen starting",
		logger.String("version", Version),
		logger.String("build_time", BuildTime),
		logger.String("input", cfg.Input.Dir),
		logger.String("output", cfg.Output.Dir))

	m := metrics.New()
	store := artifact.NewStore(cfg.Output.Dir)
	runner := batch.NewRunner(batch.Options{
		InputDir: cfg.Input.Dir,
		Workers:  cfg.Batch.Workers,
		Force:    cfg.Output.Force,
	}, store, log, m)

	srv := web.NewServer(cfg, log, runner, store, m, Version)

	ctx, cancel := signalContext(log)
	defer cancel()

	if startup, _ := cmd.Flags().GetBool("compile"); startup {
		req := web.CompileRequest{Frames: cfg.Batch.Frames, Rates: cfg.Batch.Rates}
		if _, err := srv.StartCompile(ctx, req); err != nil {
			return err
		}
	}

	if err := srv.Start(ctx); err != nil {
		log.Error("Web server error", logger.Error(err))
		return err
	}
	return nil
}
