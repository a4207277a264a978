package signalling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Point is one constellation symbol in the I/Q plane
type Point struct {
	I float64 `json:"i" yaml:"i"`
	Q float64 `json:"q" yaml:"q"`
}

// ringPoint places a symbol on ring (0 = innermost) at angle radians
type ringPoint struct {
	ring  int
	angle float64
}

const pi = math.Pi

var qpskAngles = []float64{pi / 4, 7 * pi / 4, 3 * pi / 4, 5 * pi / 4}

var psk8Angles = []float64{pi / 4, 0, pi, 5 * pi / 4, pi / 2, 7 * pi / 4, 3 * pi / 4, 3 * pi / 2}

var apsk16Layout = []ringPoint{
	{1, pi / 4}, {1, -pi / 4}, {1, 3 * pi / 4}, {1, -3 * pi / 4},
	{1, pi / 12}, {1, -pi / 12}, {1, 11 * pi / 12}, {1, -11 * pi / 12},
	{1, 5 * pi / 12}, {1, -5 * pi / 12}, {1, 7 * pi / 12}, {1, -7 * pi / 12},
	{0, pi / 4}, {0, -pi / 4}, {0, 3 * pi / 4}, {0, -3 * pi / 4},
}

var apsk32Layout = []ringPoint{
	{1, pi / 4}, {1, 5 * pi / 12}, {1, -pi / 4}, {1, -5 * pi / 12},
	{1, 3 * pi / 4}, {1, 7 * pi / 12}, {1, -3 * pi / 4}, {1, -7 * pi / 12},
	{2, pi / 8}, {2, 3 * pi / 8}, {2, -pi / 4}, {2, -pi / 2},
	{2, 3 * pi / 4}, {2, pi / 2}, {2, -7 * pi / 8}, {2, -5 * pi / 8},
	{1, pi / 12}, {0, pi / 4}, {1, -pi / 12}, {0, -pi / 4},
	{1, 11 * pi / 12}, {0, 3 * pi / 4}, {1, -11 * pi / 12}, {0, -3 * pi / 4},
	{2, 0}, {2, pi / 4}, {2, -pi / 8}, {2, -3 * pi / 8},
	{2, 7 * pi / 8}, {2, 5 * pi / 8}, {2, pi}, {2, -3 * pi / 4},
}

// Ring radius ratios from EN 302 307 tables 9 and 10. Short frames use the
// same values; short 9/10 is rejected before lookup.
var apsk16Gamma = map[dvbs2.CodeRate]float64{
	dvbs2.C2_3:  3.15,
	dvbs2.C3_4:  2.85,
	dvbs2.C4_5:  2.75,
	dvbs2.C5_6:  2.70,
	dvbs2.C8_9:  2.60,
	dvbs2.C9_10: 2.57,
}

var apsk32Gamma = map[dvbs2.CodeRate][2]float64{
	dvbs2.C3_4:  {2.84, 5.27},
	dvbs2.C4_5:  {2.72, 4.87},
	dvbs2.C5_6:  {2.64, 4.64},
	dvbs2.C8_9:  {2.54, 4.33},
	dvbs2.C9_10: {2.53, 4.30},
}

func unsupported(frame dvbs2.FrameSize, c dvbs2.Constellation, rate dvbs2.CodeRate) error {
	return fmt.Errorf("%w: %s %s %s", dvbs2.ErrUnsupportedConfiguration, frame, c, rate)
}

// RingRatios returns the outer ring radius ratios for an APSK scheme: one
// value (gamma) for 16APSK, two (gamma1, gamma2) for 32APSK. PSK schemes
// have a single ring and no ratios.
func RingRatios(frame dvbs2.FrameSize, c dvbs2.Constellation, rate dvbs2.CodeRate) ([]float64, error) {
	if !dvbs2.Valid(frame, rate) || !c.IsValid() {
		return nil, unsupported(frame, c, rate)
	}

	switch c {
	case dvbs2.Mod16APSK:
		g, ok := apsk16Gamma[rate]
		if !ok {
			return nil, unsupported(frame, c, rate)
		}
		return []float64{g}, nil
	case dvbs2.Mod32APSK:
		g, ok := apsk32Gamma[rate]
		if !ok {
			return nil, unsupported(frame, c, rate)
		}
		return []float64{g[0], g[1]}, nil
	}
	return nil, nil
}

// RingRadii returns the radius of every ring, innermost first, scaled to unit
// average symbol energy. Each ring's share of the energy is weighted by the
// number of symbols on it (4+12 for 16APSK, 4+12+16 for 32APSK).
func RingRadii(frame dvbs2.FrameSize, c dvbs2.Constellation, rate dvbs2.CodeRate) ([]float64, error) {
	ratios, err := RingRatios(frame, c, rate)
	if err != nil {
		return nil, err
	}

	switch len(ratios) {
	case 1:
		g := ratios[0]
		r1 := math.Sqrt(4 / (1 + 3*g*g))
		return []float64{r1, g * r1}, nil
	case 2:
		g1, g2 := ratios[0], ratios[1]
		r1 := math.Sqrt(8 / (1 + 3*g1*g1 + 4*g2*g2))
		return []float64{r1, g1 * r1, g2 * r1}, nil
	}
	return []float64{1}, nil
}

// Points returns the constellation in mapper index order. PSK points lie on
// the unit circle; APSK rings are scaled to unit average energy.
func Points(frame dvbs2.FrameSize, c dvbs2.Constellation, rate dvbs2.CodeRate) ([]Point, error) {
	radii, err := RingRadii(frame, c, rate)
	if err != nil {
		return nil, err
	}

	var layout []ringPoint
	switch c {
	case dvbs2.ModQPSK:
		layout = onRing(0, qpskAngles)
	case dvbs2.Mod8PSK:
		layout = onRing(0, psk8Angles)
	case dvbs2.Mod16APSK:
		layout = apsk16Layout
	case dvbs2.Mod32APSK:
		layout = apsk32Layout
	}

	points := make([]Point, len(layout))
	for i, rp := range layout {
		r := radii[rp.ring]
		points[i] = Point{I: r * math.Cos(rp.angle), Q: r * math.Sin(rp.angle)}
	}
	return points, nil
}

func onRing(ring int, angles []float64) []ringPoint {
	out := make([]ringPoint, len(angles))
	for i, a := range angles {
		out[i] = ringPoint{ring: ring, angle: a}
	}
	return out
}

// AverageEnergy returns mean(|p|^2) over points
func AverageEnergy(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	energy := make([]float64, len(points))
	for i, p := range points {
		energy[i] = p.I*p.I + p.Q*p.Q
	}
	return stat.Mean(energy, nil)
}

// quantize scales v by 2^15 and saturates to int16
func quantize(v float64) int16 {
	s := math.Round(v * 32768)
	switch {
	case s > math.MaxInt16:
		return math.MaxInt16
	case s < math.MinInt16:
		return math.MinInt16
	}
	return int16(s)
}

// MapperWords packs each point as a mapper RAM word, I in the upper 16 bits
// and Q in the lower, both signed Q1.15
func MapperWords(points []Point) []uint32 {
	words := make([]uint32, len(points))
	for i, p := range points {
		words[i] = uint32(uint16(quantize(p.I)))<<16 | uint32(uint16(quantize(p.Q)))
	}
	return words
}
