package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
	"github.com/dbehnke/dvbs2-tablegen/pkg/signalling"
)

// Constants output formats
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// LDPCConstants are the code dimensions of a configuration
type LDPCConstants struct {
	N int `json:"n" yaml:"n"`
	K int `json:"k" yaml:"k"`
	M int `json:"m" yaml:"m"`
	Q int `json:"q" yaml:"q"`
}

// Constants are the derived scalars of one full configuration tuple
type Constants struct {
	Name          string              `json:"name" yaml:"name"`
	Frame         dvbs2.FrameSize     `json:"frame" yaml:"frame"`
	Rate          dvbs2.CodeRate      `json:"rate" yaml:"rate"`
	Constellation dvbs2.Constellation `json:"constellation" yaml:"constellation"`
	Pilots        bool                `json:"pilots" yaml:"pilots"`

	PayloadBytes  int                 `json:"payload_bytes" yaml:"payload_bytes"`
	CRCLength     int                 `json:"crc_length" yaml:"crc_length"`
	LDPC          LDPCConstants       `json:"ldpc" yaml:"ldpc"`
	Geometry      dvbs2.FrameGeometry `json:"geometry" yaml:"geometry"`
	BitsPerSymbol [2]int              `json:"bits_per_symbol_ratio" yaml:"bits_per_symbol_ratio,flow"`

	// ACMByte is absent when the tuple has no MODCOD
	ACMByte *uint8 `json:"acm_byte,omitempty" yaml:"acm_byte,omitempty"`
}

// ConstantsFile is the document written by WriteConstants
type ConstantsFile struct {
	Configs []Constants     `json:"configs" yaml:"configs"`
	Tables  []ldpc.Metadata `json:"tables,omitempty" yaml:"tables,omitempty"`
}

// Derive computes the constants of one configuration
func Derive(cfg dvbs2.Config) (Constants, error) {
	params, err := dvbs2.LookupLDPC(cfg.Frame, cfg.Rate)
	if err != nil {
		return Constants{}, err
	}
	geom, err := dvbs2.Geometry(cfg)
	if err != nil {
		return Constants{}, fmt.Errorf("%s: %w", cfg, err)
	}
	in, out, err := dvbs2.BitsPerSymbolRatio(cfg.Constellation)
	if err != nil {
		return Constants{}, fmt.Errorf("%s: %w", cfg, err)
	}

	c := Constants{
		Name:          cfg.String(),
		Frame:         cfg.Frame,
		Rate:          cfg.Rate,
		Constellation: cfg.Constellation,
		Pilots:        cfg.Pilots,
		PayloadBytes:  geom.BBFramePayloadBits / 8,
		CRCLength:     dvbs2.CRCLength(cfg.Frame, cfg.Rate),
		LDPC: LDPCConstants{
			N: params.N(),
			K: params.K(),
			M: params.M,
			Q: params.Q,
		},
		Geometry:      geom,
		BitsPerSymbol: [2]int{in, out},
	}
	if b, ok := signalling.ACMByte(cfg.Frame, cfg.Constellation, cfg.Rate, cfg.Pilots); ok {
		c.ACMByte = &b
	}
	return c, nil
}

// BuildConstants derives every configuration it can. Tuples that fail are
// left out of the result and reported together in the returned error.
func BuildConstants(configs []dvbs2.Config) ([]Constants, error) {
	out := make([]Constants, 0, len(configs))
	var errs []error
	for _, cfg := range configs {
		c, err := Derive(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

// EncodeConstants writes doc to w in format
func EncodeConstants(w io.Writer, format string, doc *ConstantsFile) error {
	switch format {
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return fmt.Errorf("unknown constants format %q", format)
}

// WriteConstants atomically writes doc to path
func WriteConstants(path, format string, doc *ConstantsFile) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return EncodeConstants(w, format, doc)
	})
}
