package signalling

import "github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"

// ACM signalling byte layout
const (
	acmShortFrame = 1 << 6
	acmPilots     = 1 << 5
	acmModCodMask = 0x1f
)

// modcods is the MODCOD enumeration of EN 302 307 table 12. Missing pairs have
// no MODCOD.
var modcods = map[dvbs2.Constellation]map[dvbs2.CodeRate]byte{
	dvbs2.ModQPSK: {
		dvbs2.C1_4: 1, dvbs2.C1_3: 2, dvbs2.C2_5: 3, dvbs2.C1_2: 4,
		dvbs2.C3_5: 5, dvbs2.C2_3: 6, dvbs2.C3_4: 7, dvbs2.C4_5: 8,
		dvbs2.C5_6: 9, dvbs2.C8_9: 10, dvbs2.C9_10: 11,
	},
	dvbs2.Mod8PSK: {
		dvbs2.C3_5: 12, dvbs2.C2_3: 13, dvbs2.C3_4: 14,
		dvbs2.C5_6: 15, dvbs2.C8_9: 16, dvbs2.C9_10: 17,
	},
	dvbs2.Mod16APSK: {
		dvbs2.C2_3: 18, dvbs2.C3_4: 19, dvbs2.C4_5: 20,
		dvbs2.C5_6: 21, dvbs2.C8_9: 22, dvbs2.C9_10: 23,
	},
	dvbs2.Mod32APSK: {
		dvbs2.C3_4: 24, dvbs2.C4_5: 25, dvbs2.C5_6: 26,
		dvbs2.C8_9: 27, dvbs2.C9_10: 28,
	},
}

// ModCod returns the 5-bit MODCOD index of a constellation and code rate
func ModCod(c dvbs2.Constellation, rate dvbs2.CodeRate) (byte, bool) {
	v, ok := modcods[c][rate]
	return v, ok
}

// ACMByte packs the short frame flag (bit 6), the pilots flag (bit 5) and
// the MODCOD (bits 4:0). ok is false when the combination has no MODCOD or
// the frame size does not carry the code rate; the byte is then meaningless.
func ACMByte(frame dvbs2.FrameSize, c dvbs2.Constellation, rate dvbs2.CodeRate, pilots bool) (byte, bool) {
	if !dvbs2.Valid(frame, rate) {
		return 0, false
	}
	mc, ok := ModCod(c, rate)
	if !ok {
		return 0, false
	}

	b := mc & acmModCodMask
	if frame == dvbs2.FrameShort {
		b |= acmShortFrame
	}
	if pilots {
		b |= acmPilots
	}
	return b, true
}

// ParseACMByte is the inverse of ACMByte
func ParseACMByte(b byte) (dvbs2.Config, bool) {
	if b&^(acmShortFrame|acmPilots|acmModCodMask) != 0 {
		return dvbs2.Config{}, false
	}

	cfg := dvbs2.Config{
		Frame:  dvbs2.FrameNormal,
		Pilots: b&acmPilots != 0,
	}
	if b&acmShortFrame != 0 {
		cfg.Frame = dvbs2.FrameShort
	}

	mc := b & acmModCodMask
	for c, rates := range modcods {
		for rate, v := range rates {
			if v == mc && dvbs2.Valid(cfg.Frame, rate) {
				cfg.Constellation = c
				cfg.Rate = rate
				return cfg, true
			}
		}
	}
	return dvbs2.Config{}, false
}
