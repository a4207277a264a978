package dvbs2

import (
	"fmt"
	"strings"
)

// FrameSize is the FECFRAME size class
type FrameSize int

const (
	FrameNormal FrameSize = iota
	FrameShort
)

// FrameSizes lists the frame size classes in enumeration order
var FrameSizes = []FrameSize{FrameNormal, FrameShort}

// Length returns the coded frame length N in bits
func (f FrameSize) Length() int {
	switch f {
	case FrameNormal:
		return 64800
	case FrameShort:
		return 16200
	}
	return 0
}

func (f FrameSize) String() string {
	switch f {
	case FrameNormal:
		return "FECFRAME_NORMAL"
	case FrameShort:
		return "FECFRAME_SHORT"
	}
	return fmt.Sprintf("FrameSize(%d)", int(f))
}

// IsValid reports whether f is one of the defined frame size classes
func (f FrameSize) IsValid() bool {
	return f == FrameNormal || f == FrameShort
}

// ParseFrameSize accepts "normal", "short" or the FECFRAME_* names, case insensitive
func ParseFrameSize(s string) (FrameSize, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "fecframe_") {
	case "normal":
		return FrameNormal, nil
	case "short":
		return FrameShort, nil
	}
	return 0, fmt.Errorf("unknown frame size %q", s)
}

// CodeRate is one of the eleven DVB-S2 LDPC code rates
type CodeRate int

const (
	C1_4 CodeRate = iota
	C1_3
	C2_5
	C1_2
	C3_5
	C2_3
	C3_4
	C4_5
	C5_6
	C8_9
	C9_10
)

// CodeRates lists all code rates in ascending order
var CodeRates = []CodeRate{C1_4, C1_3, C2_5, C1_2, C3_5, C2_3, C3_4, C4_5, C5_6, C8_9, C9_10}

var codeRateFractions = [...][2]int{
	C1_4:  {1, 4},
	C1_3:  {1, 3},
	C2_5:  {2, 5},
	C1_2:  {1, 2},
	C3_5:  {3, 5},
	C2_3:  {2, 3},
	C3_4:  {3, 4},
	C4_5:  {4, 5},
	C5_6:  {5, 6},
	C8_9:  {8, 9},
	C9_10: {9, 10},
}

// IsValid reports whether c is one of the defined code rates
func (c CodeRate) IsValid() bool {
	return c >= C1_4 && c <= C9_10
}

// Fraction returns the nominal rate as numerator and denominator
func (c CodeRate) Fraction() (num, den int) {
	if !c.IsValid() {
		return 0, 1
	}
	f := codeRateFractions[c]
	return f[0], f[1]
}

func (c CodeRate) String() string {
	if !c.IsValid() {
		return fmt.Sprintf("CodeRate(%d)", int(c))
	}
	num, den := c.Fraction()
	return fmt.Sprintf("C%d_%d", num, den)
}

// Ratio returns the rate in "n/d" form
func (c CodeRate) Ratio() string {
	num, den := c.Fraction()
	return fmt.Sprintf("%d/%d", num, den)
}

// ParseCodeRate accepts "1/2", "1_2", "C1_2" and "c1_2"
func ParseCodeRate(s string) (CodeRate, error) {
	norm := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "C")
	norm = strings.Replace(norm, "/", "_", 1)
	for _, c := range CodeRates {
		num, den := c.Fraction()
		if norm == fmt.Sprintf("%d_%d", num, den) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown code rate %q", s)
}

// Constellation is the PL modulation scheme
type Constellation int

const (
	ModQPSK Constellation = iota
	Mod8PSK
	Mod16APSK
	Mod32APSK
)

// Constellations lists all modulation schemes in order of increasing order
var Constellations = []Constellation{ModQPSK, Mod8PSK, Mod16APSK, Mod32APSK}

// BitsPerSymbol returns log2 of the constellation order
func (c Constellation) BitsPerSymbol() int {
	switch c {
	case ModQPSK:
		return 2
	case Mod8PSK:
		return 3
	case Mod16APSK:
		return 4
	case Mod32APSK:
		return 5
	}
	return 0
}

// Order returns the number of constellation points
func (c Constellation) Order() int {
	return 1 << c.BitsPerSymbol()
}

// IsValid reports whether c is one of the defined constellations
func (c Constellation) IsValid() bool {
	return c >= ModQPSK && c <= Mod32APSK
}

func (c Constellation) String() string {
	switch c {
	case ModQPSK:
		return "MOD_QPSK"
	case Mod8PSK:
		return "MOD_8PSK"
	case Mod16APSK:
		return "MOD_16APSK"
	case Mod32APSK:
		return "MOD_32APSK"
	}
	return fmt.Sprintf("Constellation(%d)", int(c))
}

// ParseConstellation accepts "qpsk", "8psk", "MOD_16APSK" and similar
func ParseConstellation(s string) (Constellation, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "mod_") {
	case "qpsk":
		return ModQPSK, nil
	case "8psk":
		return Mod8PSK, nil
	case "16apsk":
		return Mod16APSK, nil
	case "32apsk":
		return Mod32APSK, nil
	}
	return 0, fmt.Errorf("unknown constellation %q", s)
}

// Key identifies an LDPC code: frame size class and code rate
type Key struct {
	Frame FrameSize `json:"frame" yaml:"frame"`
	Rate  CodeRate  `json:"rate" yaml:"rate"`
}

func (k Key) String() string {
	return k.Frame.String() + "_" + k.Rate.String()
}

// Config is the full transmission tuple
type Config struct {
	Frame         FrameSize     `json:"frame" yaml:"frame"`
	Rate          CodeRate      `json:"rate" yaml:"rate"`
	Constellation Constellation `json:"constellation" yaml:"constellation"`
	Pilots        bool          `json:"pilots" yaml:"pilots"`
}

// Key returns the LDPC part of the tuple
func (c Config) Key() Key {
	return Key{Frame: c.Frame, Rate: c.Rate}
}

func (c Config) String() string {
	pilots := "PILOTS_OFF"
	if c.Pilots {
		pilots = "PILOTS_ON"
	}
	return fmt.Sprintf("%s_%s_%s_%s", c.Frame, c.Constellation, c.Rate, pilots)
}

// MarshalText implements encoding.TextMarshaler
func (f FrameSize) MarshalText() ([]byte, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("invalid frame size %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *FrameSize) UnmarshalText(text []byte) error {
	v, err := ParseFrameSize(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (c CodeRate) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid code rate %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *CodeRate) UnmarshalText(text []byte) error {
	v, err := ParseCodeRate(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (c Constellation) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid constellation %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Constellation) UnmarshalText(text []byte) error {
	v, err := ParseConstellation(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
