package ldpc

import (
	"fmt"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Entry is one parity accumulator update: information bit Bit is XORed
// into parity address Offset. Last marks the final entry for that bit.
type Entry struct {
	Offset int  `json:"offset"`
	Last   bool `json:"last"`
	Bit    int  `json:"bit"`
}

// Table is the expanded address table of one LDPC code
type Table struct {
	Params  dvbs2.LDPCParams
	Entries []Entry
}

// Rows returns the number of information bits covered by the table
func (t *Table) Rows() int {
	if len(t.Entries) == 0 {
		return 0
	}
	return t.Entries[len(t.Entries)-1].Bit + 1
}

// mod returns x mod m in [0, m)
func mod(x, m int) int {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}

// EntryCount returns the number of entries groups expand to
func EntryCount(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	return n * dvbs2.GroupSize
}

// Expand rotates every group 360 times by multiples of Q modulo M. Bit
// indexes run contiguously from zero across all groups in order. No count
// checks are made; see Compile.
func Expand(groups []Group, params dvbs2.LDPCParams) ([]Entry, error) {
	if params.Q <= 0 || params.M <= 0 {
		return nil, fmt.Errorf("%w: %s: q=%d m=%d",
			dvbs2.ErrGroupCountMismatch, params.Key(), params.Q, params.M)
	}

	entries := make([]Entry, 0, EntryCount(groups))
	bit := 0
	for i, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: %s: group %d is empty",
				dvbs2.ErrMalformedTable, params.Key(), i)
		}
		// Reduced once so that coef+shift cannot overflow
		base := make([]int, len(group))
		for pos, coef := range group {
			base[pos] = mod(coef, params.M)
		}
		for rotation := 0; rotation < dvbs2.GroupSize; rotation++ {
			shift := (bit % dvbs2.GroupSize) * params.Q
			for pos, coef := range base {
				entries = append(entries, Entry{
					Offset: mod(coef+shift, params.M),
					Last:   pos == len(group)-1,
					Bit:    bit,
				})
			}
			bit++
		}
	}

	return entries, nil
}

// Compile expands groups into the address table for params. The group
// count must cover exactly K information bits; a table that does not
// reconcile with the tabulated code is rejected, never truncated or padded.
func Compile(groups []Group, params dvbs2.LDPCParams) (*Table, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if len(groups)*dvbs2.GroupSize != params.K() {
		return nil, fmt.Errorf("%w: %s: %d groups expand to %d rows, k=%d needs %d groups",
			dvbs2.ErrGroupCountMismatch, params.Key(), len(groups),
			len(groups)*dvbs2.GroupSize, params.K(), params.Groups())
	}

	entries, err := Expand(groups, params)
	if err != nil {
		return nil, err
	}

	table := &Table{Params: params, Entries: entries}
	if err := table.Verify(); err != nil {
		return nil, err
	}
	return table, nil
}

// Verify checks the structural invariants of a compiled table: offsets in
// [0, M), bit indexes contiguous from zero to K-1 and exactly one Last
// flag per bit, on its final entry.
func (t *Table) Verify() error {
	p := t.Params
	if len(t.Entries) == 0 {
		return fmt.Errorf("%w: %s: table is empty", dvbs2.ErrGroupCountMismatch, p.Key())
	}

	bit := 0
	for i, e := range t.Entries {
		if e.Offset < 0 || e.Offset >= p.M {
			return fmt.Errorf("%w: %s: entry %d offset %d outside [0, %d)",
				dvbs2.ErrGroupCountMismatch, p.Key(), i, e.Offset, p.M)
		}
		if e.Bit != bit {
			return fmt.Errorf("%w: %s: entry %d has bit %d, expected %d",
				dvbs2.ErrGroupCountMismatch, p.Key(), i, e.Bit, bit)
		}
		endOfRow := i == len(t.Entries)-1 || t.Entries[i+1].Bit != e.Bit
		if e.Last != endOfRow {
			return fmt.Errorf("%w: %s: entry %d last=%v at end of row=%v",
				dvbs2.ErrGroupCountMismatch, p.Key(), i, e.Last, endOfRow)
		}
		if e.Last {
			bit++
		}
	}

	if bit != p.K() {
		return fmt.Errorf("%w: %s: table covers %d bits, k=%d",
			dvbs2.ErrGroupCountMismatch, p.Key(), bit, p.K())
	}
	return nil
}
