package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/batch"
	"github.com/dbehnke/dvbs2-tablegen/pkg/config"
	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
)

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("frames", nil, "Frame sizes to include (normal, short)")
	cmd.Flags().StringSlice("rates", nil, "Code rates to include (e.g. 1/2,3_4)")
}

func applySelectionFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("frames") {
		cfg.Batch.Frames, _ = cmd.Flags().GetStringSlice("frames")
	}
	if cmd.Flags().Changed("rates") {
		cfg.Batch.Rates, _ = cmd.Flags().GetStringSlice("rates")
	}
}

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile LDPC address tables and write the constants file",
		Args:  cobra.NoArgs,
		RunE:  runCompile,
	}
	cmd.Flags().StringP("input", "i", "", "Coefficient table directory (overrides config)")
	cmd.Flags().StringP("output", "o", "", "Artifact directory (overrides config)")
	cmd.Flags().IntP("workers", "w", 0, "Concurrent compile tasks (overrides config)")
	cmd.Flags().Bool("force", false, "Recompile even when a valid artifact exists")
	cmd.Flags().String("constants", "", "Constants file path, - for stdout (overrides config)")
	cmd.Flags().Bool("skip-constants", false, "Do not write the constants file")
	addSelectionFlags(cmd)
	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, func(cfg *config.Config) {
		if v, _ := cmd.Flags().GetString("input"); v != "" {
			cfg.Input.Dir = v
		}
		if v, _ := cmd.Flags().GetString("output"); v != "" {
			cfg.Output.Dir = v
		}
		if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
			cfg.Batch.Workers = v
		}
		if v, _ := cmd.Flags().GetBool("force"); v {
			cfg.Output.Force = true
		}
		if v, _ := cmd.Flags().GetString("constants"); v != "" {
			cfg.Output.ConstantsFile = v
		}
		applySelectionFlags(cmd, cfg)
	})
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	keys, err := cfg.Batch.Keys()
	if err != nil {
		return err
	}

	store := artifact.NewStore(cfg.Output.Dir)
	runner := batch.NewRunner(batch.Options{
		InputDir: cfg.Input.Dir,
		Workers:  cfg.Batch.Workers,
		Force:    cfg.Output.Force,
	}, store, log, metrics.New())

	ctx, cancel := signalContext(log)
	defer cancel()

	report, err := runner.Run(ctx, keys)
	if err != nil {
		return err
	}

	for _, res := range report.Results {
		if res.Err != nil {
			log.Error("Task failed", logger.Stringer("key", res.Key), logger.Error(res.Err))
		}
	}

	if skip, _ := cmd.Flags().GetBool("skip-constants"); !skip {
		if err := writeConstantsFile(cmd.OutOrStdout(), cfg, log, report.Metadata()); err != nil {
			return err
		}
	}

	if failed := report.Count(batch.StatusFailed); failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(report.Results))
	}
	return nil
}

func newConstantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "constants",
		Short: "Write the per-configuration constants file",
		Long: `Derives payload length, CRC length, LDPC parameters, PLFRAME geometry,
bit-repacking ratio and ACM byte for every selected configuration. ROM
metadata is included for every code that already has a valid artifact.`,
		Args: cobra.NoArgs,
		RunE: runConstants,
	}
	cmd.Flags().StringP("output", "o", "", "Constants file path, - for stdout (overrides config)")
	cmd.Flags().StringP("format", "f", "", "Constants format: yaml or json (overrides config)")
	addSelectionFlags(cmd)
	return cmd
}

func runConstants(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, func(cfg *config.Config) {
		if v, _ := cmd.Flags().GetString("output"); v != "" {
			cfg.Output.ConstantsFile = v
		}
		if v, _ := cmd.Flags().GetString("format"); v != "" {
			cfg.Output.ConstantsFormat = v
		}
		applySelectionFlags(cmd, cfg)
	})
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	keys, err := cfg.Batch.Keys()
	if err != nil {
		return err
	}
	tables, err := storedMetadata(artifact.NewStore(cfg.Output.Dir), keys)
	if err != nil {
		return err
	}
	return writeConstantsFile(cmd.OutOrStdout(), cfg, log, tables)
}

// storedMetadata describes every key with a valid artifact. A valid table
// without ROM metadata is an error, since leaving it out would shift the
// addresses of every later code.
func storedMetadata(store *artifact.Store, keys []dvbs2.Key) ([]ldpc.Metadata, error) {
	var metas []ldpc.Metadata
	for _, key := range keys {
		table, err := store.Load(key)
		if err != nil {
			continue
		}
		md, err := ldpc.DescribeTable(table)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", store.Path(key), err)
		}
		metas = append(metas, md)
	}
	return ldpc.Layout(metas), nil
}

// writeConstantsFile writes the constants of every selected configuration to
// cfg.Output.ConstantsFile, or to stdout when that is "-"
func writeConstantsFile(stdout io.Writer, cfg *config.Config, log *logger.Logger, tables []ldpc.Metadata) error {
	path := cfg.Output.ConstantsFile
	configs, err := cfg.Batch.Configs()
	if err != nil {
		return err
	}

	consts, skipped := artifact.BuildConstants(configs)
	if skipped != nil {
		log.Debug("Configurations without a valid frame left out",
			logger.Int("count", len(configs)-len(consts)),
			logger.Error(skipped))
	}

	doc := &artifact.ConstantsFile{Configs: consts, Tables: tables}
	if path == "-" {
		return artifact.EncodeConstants(stdout, cfg.Output.ConstantsFormat, doc)
	}
	if err := artifact.WriteConstants(path, cfg.Output.ConstantsFormat, doc); err != nil {
		return fmt.Errorf("failed to write constants: %w", err)
	}

	log.Info("Constants written",
		logger.String("path", path),
		logger.String("format", cfg.Output.ConstantsFormat),
		logger.Int("configs", len(consts)),
		logger.Int("tables", len(tables)))
	return nil
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump [file]",
		Short: "Print an address table as offset,last,bit lines",
		Long: `Prints a compiled address table. With a file argument the table is read
from that file; otherwise --frame and --rate select it from the artifact
directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDump,
	}
	cmd.Flags().String("frame", "", "Frame size of the stored table")
	cmd.Flags().String("rate", "", "Code rate of the stored table")
	cmd.Flags().Bool("header", false, "Print table metadata instead of records")
	return cmd
}

func runDump(cmd *cobra.Command, args []string) error {
	var (
		table *ldpc.Table
		err   error
	)

	if len(args) == 1 {
		table, err = readTableFile(args[0])
	} else {
		var cfg *config.Config
		cfg, err = loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		var key dvbs2.Key
		key, err = keyFromFlags(cmd)
		if err != nil {
			return err
		}
		table, err = artifact.NewStore(cfg.Output.Dir).Load(key)
	}
	if err != nil {
		return err
	}

	if header, _ := cmd.Flags().GetBool("header"); header {
		md, err := ldpc.DescribeTable(table)
		if err != nil {
			return err
		}
		return encode(cmd.OutOrStdout(), "yaml", md)
	}
	return table.WriteText(cmd.OutOrStdout())
}

func readTableFile(path string) (*ldpc.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	table, err := ldpc.ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}
