package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/signalling"
)

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func addTupleFlags(cmd *cobra.Command) {
	cmd.Flags().String("frame", "normal", "Frame size: normal or short")
	cmd.Flags().String("rate", "1/2", "Code rate")
	cmd.Flags().String("constellation", "qpsk", "Constellation: qpsk, 8psk, 16apsk, 32apsk")
	cmd.Flags().Bool("pilots", false, "Pilot blocks on")
	cmd.Flags().StringP("format", "f", "yaml", "Output format: yaml or json")
}

func keyFromFlags(cmd *cobra.Command) (dvbs2.Key, error) {
	frameFlag, _ := cmd.Flags().GetString("frame")
	rateFlag, _ := cmd.Flags().GetString("rate")

	frame, err := dvbs2.ParseFrameSize(frameFlag)
	if err != nil {
		return dvbs2.Key{}, err
	}
	rate, err := dvbs2.ParseCodeRate(rateFlag)
	if err != nil {
		return dvbs2.Key{}, err
	}
	return dvbs2.Key{Frame: frame, Rate: rate}, nil
}

func configFromFlags(cmd *cobra.Command) (dvbs2.Config, error) {
	key, err := keyFromFlags(cmd)
	if err != nil {
		return dvbs2.Config{}, err
	}
	cFlag, _ := cmd.Flags().GetString("constellation")
	c, err := dvbs2.ParseConstellation(cFlag)
	if err != nil {
		return dvbs2.Config{}, err
	}
	pilots, _ := cmd.Flags().GetBool("pilots")
	return dvbs2.Config{Frame: key.Frame, Rate: key.Rate, Constellation: c, Pilots: pilots}, nil
}

func newGeometryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the frame constants of one configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			consts, err := artifact.Derive(cfg)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			return encode(cmd.OutOrStdout(), format, consts)
		},
	}
	addTupleFlags(cmd)
	return cmd
}

type constellationOutput struct {
	Config dvbs2.Config       `json:"config" yaml:"config"`
	Radii  []float64          `json:"radii" yaml:"radii,flow"`
	Energy float64            `json:"average_energy" yaml:"average_energy"`
	Points []signalling.Point `json:"points" yaml:"points"`
	Words  []string           `json:"mapper_words" yaml:"mapper_words,flow"`
}

func newConstellationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "constellation",
		Short: "Print constellation points and mapper RAM words",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			radii, err := signalling.RingRadii(cfg.Frame, cfg.Constellation, cfg.Rate)
			if err != nil {
				return err
			}
			points, err := signalling.Points(cfg.Frame, cfg.Constellation, cfg.Rate)
			if err != nil {
				return err
			}

			out := constellationOutput{
				Config: cfg,
				Radii:  radii,
				Energy: signalling.AverageEnergy(points),
				Points: points,
			}
			for _, word := range signalling.MapperWords(points) {
				out.Words = append(out.Words, fmt.Sprintf("0x%08x", word))
			}

			format, _ := cmd.Flags().GetString("format")
			return encode(cmd.OutOrStdout(), format, out)
		},
	}
	addTupleFlags(cmd)
	return cmd
}

func newACMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acm [byte]",
		Short: "Print the ACM byte of a configuration, or decode one",
		Long: `Without arguments, prints the ACM signalling byte of the configuration
selected by the flags. With a byte argument (decimal or 0x-prefixed hex),
decodes it back into frame size, constellation, code rate and pilots.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			if len(args) == 1 {
				v, err := strconv.ParseUint(args[0], 0, 8)
				if err != nil {
					return fmt.Errorf("invalid ACM byte %q: %w", args[0], err)
				}
				b := byte(v)
				cfg, ok := signalling.ParseACMByte(b)
				if !ok {
					return fmt.Errorf("%w: ACM byte 0x%02x has no MODCOD", dvbs2.ErrUnsupportedConfiguration, b)
				}
				return encode(cmd.OutOrStdout(), format, cfg)
			}

			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			b, ok := signalling.ACMByte(cfg.Frame, cfg.Constellation, cfg.Rate, cfg.Pilots)
			if !ok {
				return fmt.Errorf("%w: no MODCOD for %s", dvbs2.ErrUnsupportedConfiguration, cfg)
			}
			return encode(cmd.OutOrStdout(), format, map[string]interface{}{
				"config":   cfg,
				"acm_byte": b,
				"hex":      fmt.Sprintf("0x%02x", b),
			})
		},
	}
	addTupleFlags(cmd)
	return cmd
}

func newConfigsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configs",
		Short: "List the LDPC codes and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FRAME\tRATE\tN\tK\tM\tQ\tGROUPS\tCRC\tPAYLOAD")
			for _, key := range dvbs2.Keys() {
				params, err := dvbs2.LookupLDPC(key.Frame, key.Rate)
				if err != nil {
					return err
				}
				payload := "-"
				if n, err := dvbs2.PayloadLength(key.Frame, key.Rate); err == nil {
					payload = fmt.Sprint(n)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
					key.Frame, key.Rate.Ratio(), params.N(), params.K(), params.M, params.Q,
					params.Groups(), dvbs2.CRCLength(key.Frame, key.Rate), payload)
			}
			return tw.Flush()
		},
	}
}
