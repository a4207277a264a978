package ldpc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Address table file format, version 1. All fields big endian.
//
//	offset size field
//	0      4    magic "DVBL"
//	4      1    version (1)
//	5      1    frame size (0 normal, 1 short)
//	6      1    code rate index (0 = 1/4 ... 10 = 9/10)
//	7      1    reserved, zero
//	8      2    Q
//	10     2    M
//	12     2    K
//	14     2    reserved, zero
//	16     4    entry count
//	20     8    xxhash64 of the record section
//	28     4    reserved, zero
//
// The header is followed by entry count records of 6 bytes each:
//
//	0      2    offset
//	2      2    bit index
//	4      2    flags, bit 0 set on the last entry of a row
const (
	HeaderSize    = 32
	RecordSize    = 6
	FormatVersion = 1

	flagLast = 0x0001

	// maxRowWeight bounds entries per information bit when sizing reads
	maxRowWeight = 64
)

var magic = [4]byte{'D', 'V', 'B', 'L'}

// ErrCorruptTable means an address table file failed structural checks
var ErrCorruptTable = errors.New("corrupt address table")

func (t *Table) encodeRecords() []byte {
	body := make([]byte, len(t.Entries)*RecordSize)
	for i, e := range t.Entries {
		rec := body[i*RecordSize:]
		binary.BigEndian.PutUint16(rec[0:], uint16(e.Offset))
		binary.BigEndian.PutUint16(rec[2:], uint16(e.Bit))
		var flags uint16
		if e.Last {
			flags |= flagLast
		}
		binary.BigEndian.PutUint16(rec[4:], flags)
	}
	return body
}

// WriteTo writes the table in the version 1 binary format. The output is a
// pure function of the table contents.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	body := t.encodeRecords()

	var header [HeaderSize]byte
	copy(header[0:4], magic[:])
	header[4] = FormatVersion
	header[5] = byte(t.Params.Frame)
	header[6] = byte(t.Params.Rate)
	binary.BigEndian.PutUint16(header[8:], uint16(t.Params.Q))
	binary.BigEndian.PutUint16(header[10:], uint16(t.Params.M))
	binary.BigEndian.PutUint16(header[12:], uint16(t.Params.K()))
	binary.BigEndian.PutUint32(header[16:], uint32(len(t.Entries)))
	binary.BigEndian.PutUint64(header[20:], xxhash.Sum64(body))

	n, err := w.Write(header[:])
	total := int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(body)
	total += int64(n)
	return total, err
}

// MarshalBinary returns the version 1 encoding of the table
func (t *Table) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := t.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadTable decodes and fully validates a version 1 address table
func ReadTable(r io.Reader) (*Table, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptTable, err)
	}
	if !bytes.Equal(header[0:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptTable, header[0:4])
	}
	if header[4] != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptTable, header[4])
	}

	frame := dvbs2.FrameSize(header[5])
	rate := dvbs2.CodeRate(header[6])
	params, err := dvbs2.LookupLDPC(frame, rate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}
	q := int(binary.BigEndian.Uint16(header[8:]))
	m := int(binary.BigEndian.Uint16(header[10:]))
	k := int(binary.BigEndian.Uint16(header[12:]))
	if q != params.Q || m != params.M || k != params.K() {
		return nil, fmt.Errorf("%w: %s header q=%d m=%d k=%d, expected q=%d m=%d k=%d",
			ErrCorruptTable, params.Key(), q, m, k, params.Q, params.M, params.K())
	}

	count := int(binary.BigEndian.Uint32(header[16:]))
	if count < params.K() || count > params.K()*maxRowWeight {
		return nil, fmt.Errorf("%w: %s entry count %d out of range", ErrCorruptTable, params.Key(), count)
	}
	body := make([]byte, count*RecordSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: records: %v", ErrCorruptTable, err)
	}
	if sum := xxhash.Sum64(body); sum != binary.BigEndian.Uint64(header[20:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptTable)
	}
	var extra [1]byte
	if _, err := io.ReadFull(r, extra[:]); err == nil {
		return nil, fmt.Errorf("%w: trailing data after %d records", ErrCorruptTable, count)
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: after records: %v", ErrCorruptTable, err)
	}

	entries := make([]Entry, count)
	for i := range entries {
		rec := body[i*RecordSize:]
		entries[i] = Entry{
			Offset: int(binary.BigEndian.Uint16(rec[0:])),
			Bit:    int(binary.BigEndian.Uint16(rec[2:])),
			Last:   binary.BigEndian.Uint16(rec[4:])&flagLast != 0,
		}
	}

	table := &Table{Params: params, Entries: entries}
	if err := table.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}
	return table, nil
}

// WriteText writes one "offset,last,bit" line per entry
func (t *Table) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range t.Entries {
		last := 0
		if e.Last {
			last = 1
		}
		if _, err := fmt.Fprintf(bw, "%d,%d,%d\n", e.Offset, last, e.Bit); err != nil {
			return err
		}
	}
	return bw.Flush()
}
