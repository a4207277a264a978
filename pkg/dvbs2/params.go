package dvbs2

import "fmt"

// GroupSize is the number of rows generated from each circulant group
const GroupSize = 360

// LDPCParams holds the tabulated quasi-cyclic code parameters for one Key
type LDPCParams struct {
	Frame FrameSize `json:"frame" yaml:"frame"`
	Rate  CodeRate  `json:"rate" yaml:"rate"`
	Q     int       `json:"q" yaml:"q"`
	M     int       `json:"m" yaml:"m"`
}

// N returns the coded frame length
func (p LDPCParams) N() int {
	return p.Frame.Length()
}

// K returns the LDPC information length N - M
func (p LDPCParams) K() int {
	return p.N() - p.M
}

// Groups returns the number of circulant groups a coefficient table must have
func (p LDPCParams) Groups() int {
	return p.K() / GroupSize
}

// Validate checks Q * 360 == M and that K splits into whole groups
func (p LDPCParams) Validate() error {
	if p.Q <= 0 || p.M <= 0 {
		return fmt.Errorf("%w: %s has non-positive q=%d m=%d",
			ErrGroupCountMismatch, p.Key(), p.Q, p.M)
	}
	if p.Q*GroupSize != p.M {
		return fmt.Errorf("%w: %s q=%d * %d != m=%d",
			ErrGroupCountMismatch, p.Key(), p.Q, GroupSize, p.M)
	}
	if p.K()%GroupSize != 0 {
		return fmt.Errorf("%w: %s k=%d is not a multiple of %d",
			ErrGroupCountMismatch, p.Key(), p.K(), GroupSize)
	}
	return nil
}

// Key returns the (frame, rate) pair of the parameters
func (p LDPCParams) Key() Key {
	return Key{Frame: p.Frame, Rate: p.Rate}
}

// ldpcTable is EN 302 307 tables 7a/7b: q and N - K_ldpc per code.
// Short frames have no 9/10 code.
var ldpcTable = map[Key]struct{ q, m int }{
	{FrameNormal, C1_4}:  {135, 48600},
	{FrameNormal, C1_3}:  {120, 43200},
	{FrameNormal, C2_5}:  {108, 38880},
	{FrameNormal, C1_2}:  {90, 32400},
	{FrameNormal, C3_5}:  {72, 25920},
	{FrameNormal, C2_3}:  {60, 21600},
	{FrameNormal, C3_4}:  {45, 16200},
	{FrameNormal, C4_5}:  {36, 12960},
	{FrameNormal, C5_6}:  {30, 10800},
	{FrameNormal, C8_9}:  {20, 7200},
	{FrameNormal, C9_10}: {18, 6480},
	{FrameShort, C1_4}:   {36, 12960},
	{FrameShort, C1_3}:   {30, 10800},
	{FrameShort, C2_5}:   {27, 9720},
	{FrameShort, C1_2}:   {25, 9000},
	{FrameShort, C3_5}:   {18, 6480},
	{FrameShort, C2_3}:   {15, 5400},
	{FrameShort, C3_4}:   {12, 4320},
	{FrameShort, C4_5}:   {10, 3600},
	{FrameShort, C5_6}:   {8, 2880},
	{FrameShort, C8_9}:   {5, 1800},
}

// Valid reports whether (frame, rate) is a code defined by the standard
func Valid(frame FrameSize, rate CodeRate) bool {
	_, ok := ldpcTable[Key{Frame: frame, Rate: rate}]
	return ok
}

// LookupLDPC returns the LDPC parameters for (frame, rate)
func LookupLDPC(frame FrameSize, rate CodeRate) (LDPCParams, error) {
	entry, ok := ldpcTable[Key{Frame: frame, Rate: rate}]
	if !ok {
		return LDPCParams{}, fmt.Errorf("%w: no LDPC code for %s %s",
			ErrUnsupportedConfiguration, frame, rate)
	}
	return LDPCParams{Frame: frame, Rate: rate, Q: entry.q, M: entry.m}, nil
}

// Keys lists every valid (frame, rate) pair, normal frames first, rates ascending
func Keys() []Key {
	keys := make([]Key, 0, len(ldpcTable))
	for _, frame := range FrameSizes {
		for _, rate := range CodeRates {
			if Valid(frame, rate) {
				keys = append(keys, Key{Frame: frame, Rate: rate})
			}
		}
	}
	return keys
}

// Configs lists the full (frame, rate, constellation, pilots) product over valid keys
func Configs() []Config {
	var configs []Config
	for _, key := range Keys() {
		for _, c := range Constellations {
			for _, pilots := range []bool{false, true} {
				configs = append(configs, Config{
					Frame:         key.Frame,
					Rate:          key.Rate,
					Constellation: c,
					Pilots:        pilots,
				})
			}
		}
	}
	return configs
}
