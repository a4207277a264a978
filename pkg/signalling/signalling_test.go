package signalling

import (
	"errors"
	"math"
	"testing"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

const eps = 1e-9

func TestPointsCounts(t *testing.T) {
	tests := []struct {
		c    dvbs2.Constellation
		rate dvbs2.CodeRate
		want int
	}{
		{dvbs2.ModQPSK, dvbs2.C1_4, 4},
		{dvbs2.Mod8PSK, dvbs2.C3_5, 8},
		{dvbs2.Mod16APSK, dvbs2.C2_3, 16},
		{dvbs2.Mod32APSK, dvbs2.C3_4, 32},
	}

	for _, tt := range tests {
		points, err := Points(dvbs2.FrameNormal, tt.c, tt.rate)
		if err != nil {
			t.Fatalf("%s: Points failed: %v", tt.c, err)
		}
		if len(points) != tt.want {
			t.Errorf("%s: expected %d points, got %d", tt.c, tt.want, len(points))
		}
		if len(points) != tt.c.Order() {
			t.Errorf("%s: point count %d does not match order %d", tt.c, len(points), tt.c.Order())
		}
	}
}

func TestPSKOnUnitCircle(t *testing.T) {
	points, err := Points(dvbs2.FrameShort, dvbs2.ModQPSK, dvbs2.C1_2)
	if err != nil {
		t.Fatalf("Points failed: %v", err)
	}
	s := math.Sqrt2 / 2
	want := []Point{{s, s}, {s, -s}, {-s, s}, {-s, -s}}
	for i, p := range points {
		if math.Abs(p.I-want[i].I) > eps || math.Abs(p.Q-want[i].Q) > eps {
			t.Errorf("Point %d: expected %+v, got %+v", i, want[i], p)
		}
	}

	points, err = Points(dvbs2.FrameNormal, dvbs2.Mod8PSK, dvbs2.C8_9)
	if err != nil {
		t.Fatalf("Points failed: %v", err)
	}
	if math.Abs(points[1].I-1) > eps || math.Abs(points[1].Q) > eps {
		t.Errorf("Expected 8PSK point 1 at (1, 0), got %+v", points[1])
	}
	if math.Abs(points[7].I) > eps || math.Abs(points[7].Q+1) > eps {
		t.Errorf("Expected 8PSK point 7 at (0, -1), got %+v", points[7])
	}
}

func TestUnitAverageEnergy(t *testing.T) {
	for _, cfg := range dvbs2.Configs() {
		if cfg.Pilots {
			continue
		}
		points, err := Points(cfg.Frame, cfg.Constellation, cfg.Rate)
		if err != nil {
			continue
		}
		if e := AverageEnergy(points); math.Abs(e-1) > 1e-9 {
			t.Errorf("%s: expected unit average energy, got %f", cfg, e)
		}
	}
}

func TestRingRatios(t *testing.T) {
	radii, err := RingRadii(dvbs2.FrameNormal, dvbs2.Mod16APSK, dvbs2.C3_4)
	if err != nil {
		t.Fatalf("RingRadii failed: %v", err)
	}
	if len(radii) != 2 {
		t.Fatalf("Expected 2 rings, got %d", len(radii))
	}
	if r := radii[1] / radii[0]; math.Abs(r-2.85) > eps {
		t.Errorf("Expected gamma 2.85, got %f", r)
	}

	radii, err = RingRadii(dvbs2.FrameShort, dvbs2.Mod32APSK, dvbs2.C8_9)
	if err != nil {
		t.Fatalf("RingRadii failed: %v", err)
	}
	if len(radii) != 3 {
		t.Fatalf("Expected 3 rings, got %d", len(radii))
	}
	if r := radii[1] / radii[0]; math.Abs(r-2.54) > eps {
		t.Errorf("Expected gamma1 2.54, got %f", r)
	}
	if r := radii[2] / radii[0]; math.Abs(r-4.33) > eps {
		t.Errorf("Expected gamma2 4.33, got %f", r)
	}

	points, _ := Points(dvbs2.FrameNormal, dvbs2.Mod16APSK, dvbs2.C3_4)
	inner := math.Hypot(points[12].I, points[12].Q)
	outer := math.Hypot(points[0].I, points[0].Q)
	if math.Abs(outer/inner-2.85) > eps {
		t.Errorf("Expected outer/inner 2.85, got %f", outer/inner)
	}
}

func TestUnsupportedCombinations(t *testing.T) {
	tests := []struct {
		name  string
		frame dvbs2.FrameSize
		c     dvbs2.Constellation
		rate  dvbs2.CodeRate
	}{
		{"16APSK below 2/3", dvbs2.FrameNormal, dvbs2.Mod16APSK, dvbs2.C1_2},
		{"32APSK 2/3", dvbs2.FrameNormal, dvbs2.Mod32APSK, dvbs2.C2_3},
		{"short 9/10", dvbs2.FrameShort, dvbs2.Mod16APSK, dvbs2.C9_10},
		{"short 9/10 QPSK", dvbs2.FrameShort, dvbs2.ModQPSK, dvbs2.C9_10},
		{"bad constellation", dvbs2.FrameNormal, dvbs2.Constellation(9), dvbs2.C1_2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Points(tt.frame, tt.c, tt.rate)
			if !errors.Is(err, dvbs2.ErrUnsupportedConfiguration) {
				t.Errorf("Expected ErrUnsupportedConfiguration, got %v", err)
			}
		})
	}
}

func TestMapperWords(t *testing.T) {
	words := MapperWords([]Point{
		{I: 1, Q: -1},
		{I: 0.5, Q: -0.5},
		{I: 0, Q: 0},
		{I: -2, Q: 2},
	})

	want := []uint32{
		0x7fff8000,
		0x4000c000,
		0x00000000,
		0x80007fff,
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("Word %d: expected %#08x, got %#08x", i, want[i], words[i])
		}
	}
}

func TestACMByte(t *testing.T) {
	tests := []struct {
		name   string
		frame  dvbs2.FrameSize
		c      dvbs2.Constellation
		rate   dvbs2.CodeRate
		pilots bool
		want   byte
	}{
		{"qpsk 1/4", dvbs2.FrameNormal, dvbs2.ModQPSK, dvbs2.C1_4, false, 0x01},
		{"qpsk 9/10 pilots", dvbs2.FrameNormal, dvbs2.ModQPSK, dvbs2.C9_10, true, 0x2b},
		{"8psk 3/5 short", dvbs2.FrameShort, dvbs2.Mod8PSK, dvbs2.C3_5, false, 0x4c},
		{"16apsk 2/3 short pilots", dvbs2.FrameShort, dvbs2.Mod16APSK, dvbs2.C2_3, true, 0x72},
		{"32apsk 9/10", dvbs2.FrameNormal, dvbs2.Mod32APSK, dvbs2.C9_10, false, 28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ACMByte(tt.frame, tt.c, tt.rate, tt.pilots)
			if !ok {
				t.Fatal("Expected a defined ACM byte")
			}
			if got != tt.want {
				t.Errorf("Expected %#02x, got %#02x", tt.want, got)
			}

			cfg, ok := ParseACMByte(got)
			if !ok {
				t.Fatal("ParseACMByte rejected its own output")
			}
			want := dvbs2.Config{Frame: tt.frame, Rate: tt.rate, Constellation: tt.c, Pilots: tt.pilots}
			if cfg != want {
				t.Errorf("Expected %v, got %v", want, cfg)
			}
		})
	}
}

func TestACMByteUndefined(t *testing.T) {
	undefined := []struct {
		frame dvbs2.FrameSize
		c     dvbs2.Constellation
		rate  dvbs2.CodeRate
	}{
		{dvbs2.FrameShort, dvbs2.ModQPSK, dvbs2.C9_10},
		{dvbs2.FrameNormal, dvbs2.Mod8PSK, dvbs2.C1_2},
		{dvbs2.FrameNormal, dvbs2.Mod8PSK, dvbs2.C4_5},
		{dvbs2.FrameNormal, dvbs2.Mod32APSK, dvbs2.C2_3},
	}
	for _, tt := range undefined {
		if b, ok := ACMByte(tt.frame, tt.c, tt.rate, false); ok {
			t.Errorf("%s %s %s: expected no ACM byte, got %#02x", tt.frame, tt.c, tt.rate, b)
		}
	}

	if _, ok := ParseACMByte(0); ok {
		t.Error("Expected MODCOD 0 to be undefined")
	}
	if _, ok := ParseACMByte(0x80 | 4); ok {
		t.Error("Expected bit 7 to be rejected")
	}
}
