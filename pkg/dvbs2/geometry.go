package dvbs2

import "fmt"

const (
	// BBHeaderBits is the BBFRAME header length (10 bytes)
	BBHeaderBits = 80

	// PLHeaderLength is the PLFRAME header length in symbols (SOF + PLS code)
	PLHeaderLength = 90

	// pilotBlockPeriod is the number of slots between pilot blocks
	pilotBlockPeriod = 16
)

// CRCLength returns the outer code overhead subtracted from the nominal
// frame payload. Short frames always use 192; normal frames use 128 for
// 8/9 and 9/10, 160 for 5/6 and 2/3, 192 otherwise. The short BCH code
// itself is 168 bits, so short-frame payloads come out a few bytes below
// the standard's Kbch-80.
func CRCLength(frame FrameSize, rate CodeRate) int {
	if frame == FrameShort {
		return 192
	}
	switch rate {
	case C8_9, C9_10:
		return 128
	case C5_6, C2_3:
		return 160
	}
	return 192
}

// PayloadLength returns the BBFRAME user payload in bytes: the nominal
// frame length times the code rate, minus CRC and BBHEADER bits, divided
// by eight. A payload that is not a whole number of bytes is
// ErrInvalidFrameLength.
func PayloadLength(frame FrameSize, rate CodeRate) (int, error) {
	if !Valid(frame, rate) {
		return 0, fmt.Errorf("%w: no BBFRAME for %s %s",
			ErrUnsupportedConfiguration, frame, rate)
	}

	num, den := rate.Fraction()
	scaled := frame.Length() * num
	if scaled%den != 0 {
		return 0, fmt.Errorf("%w: %s %s: %d * %s is not an integer",
			ErrInvalidFrameLength, frame, rate, frame.Length(), rate.Ratio())
	}

	bits := scaled/den - CRCLength(frame, rate) - BBHeaderBits
	if bits <= 0 || bits%8 != 0 {
		return 0, fmt.Errorf("%w: %s %s: payload of %d bits is not byte aligned",
			ErrInvalidFrameLength, frame, rate, bits)
	}
	return bits / 8, nil
}

var slotCounts = map[FrameSize]map[Constellation]int{
	FrameNormal: {ModQPSK: 360, Mod8PSK: 240, Mod16APSK: 180, Mod32APSK: 144},
	FrameShort:  {ModQPSK: 90, Mod8PSK: 60, Mod16APSK: 45, Mod32APSK: 36},
}

// SlotCount returns the number of 90-symbol slots in a PLFRAME payload
func SlotCount(frame FrameSize, c Constellation) (int, error) {
	slots, ok := slotCounts[frame][c]
	if !ok {
		return 0, fmt.Errorf("%w: no PLFRAME for %s %s",
			ErrUnsupportedConfiguration, frame, c)
	}
	return slots, nil
}

// PLFrameLength returns the total PLFRAME length in symbols, header included
func PLFrameLength(frame FrameSize, c Constellation, pilots bool) (int, error) {
	slots, err := SlotCount(frame, c)
	if err != nil {
		return 0, err
	}
	length := PLHeaderLength * (slots + 1)
	if pilots {
		length += (slots - 1) / pilotBlockPeriod
	}
	return length, nil
}

// BitsPerSymbolRatio returns the (input, output) bit-repacking ratio used to
// pack constellation symbols into bytes
func BitsPerSymbolRatio(c Constellation) (in, out int, err error) {
	if !c.IsValid() {
		return 0, 0, fmt.Errorf("%w: unknown constellation %s", ErrUnsupportedConfiguration, c)
	}
	return c.BitsPerSymbol(), 8, nil
}

// FrameGeometry holds the derived frame constants for one configuration
type FrameGeometry struct {
	BBFramePayloadBits  int `json:"bbframe_payload_bits" yaml:"bbframe_payload_bits"`
	PLFrameHeaderLength int `json:"plframe_header_length" yaml:"plframe_header_length"`
	PLFrameSlotCount    int `json:"plframe_slot_count" yaml:"plframe_slot_count"`
	PLFrameTotalLength  int `json:"plframe_total_length" yaml:"plframe_total_length"`
}

// PLFramePayloadLength returns the symbols following the PLHEADER
func (g FrameGeometry) PLFramePayloadLength() int {
	return g.PLFrameTotalLength - g.PLFrameHeaderLength
}

// Geometry derives the frame geometry for a full configuration tuple
func Geometry(cfg Config) (FrameGeometry, error) {
	payload, err := PayloadLength(cfg.Frame, cfg.Rate)
	if err != nil {
		return FrameGeometry{}, err
	}
	slots, err := SlotCount(cfg.Frame, cfg.Constellation)
	if err != nil {
		return FrameGeometry{}, err
	}
	total, err := PLFrameLength(cfg.Frame, cfg.Constellation, cfg.Pilots)
	if err != nil {
		return FrameGeometry{}, err
	}
	return FrameGeometry{
		BBFramePayloadBits:  payload * 8,
		PLFrameHeaderLength: PLHeaderLength,
		PLFrameSlotCount:    slots,
		PLFrameTotalLength:  total,
	}, nil
}
