package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbehnke/dvbs2-tablegen/pkg/config"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dvbs2-tablegen",
		Short: "DVB-S2 LDPC address table and frame constants generator",
		Long: `dvbs2-tablegen compiles the DVB-S2 LDPC parity-check coefficient tables
into the address tables an FPGA encoder consumes, and derives the frame
geometry, constellation and ACM constants for every MODCOD.`,
		Version:       fmt.Sprintf("%s (built at %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (overrides config)")

	rootCmd.AddCommand(
		newCompileCmd(),
		newConstantsCmd(),
		newConfigsCmd(),
		newDumpCmd(),
		newGeometryCmd(),
		newConstellationCmd(),
		newACMCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration, applies overrides and validates the
// result
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	debugOverride, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if override != nil {
		override(cfg)
	}
	if debugOverride {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		File:        cfg.Logging.File,
		MaxSize:     cfg.Logging.MaxSize,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAge:      cfg.Logging.MaxAge,
		Compress:    cfg.Logging.Compress,
		Development: cfg.Logging.Level == "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info("Shutdown signal received", logger.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
