package ldpc

import (
	"fmt"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Stage is a run of consecutive groups with the same row length. The
// encoder walks a table in two such stages.
type Stage struct {
	Loops int `json:"loops" yaml:"loops"`
	Rows  int `json:"rows" yaml:"rows"`
}

// Metadata describes the base coefficient ROM of one code
type Metadata struct {
	Key          dvbs2.Key `json:"key" yaml:"key"`
	Addr         int       `json:"addr" yaml:"addr"`
	Q            int       `json:"q" yaml:"q"`
	Depth        int       `json:"depth" yaml:"depth"`
	Width        int       `json:"width" yaml:"width"`
	Coefficients int       `json:"coefficients" yaml:"coefficients"`
	Stages       [2]Stage  `json:"stages" yaml:"stages"`
}

// stages run-length encodes row lengths into exactly two stages. A table
// with a single row length is split in half.
func stages(groups []Group) ([2]Stage, error) {
	var runs []Stage
	for _, g := range groups {
		if n := len(runs); n > 0 && runs[n-1].Rows == len(g) {
			runs[n-1].Loops++
			continue
		}
		runs = append(runs, Stage{Loops: 1, Rows: len(g)})
	}

	switch len(runs) {
	case 1:
		half := runs[0].Loops / 2
		return [2]Stage{
			{Loops: half, Rows: runs[0].Rows},
			{Loops: runs[0].Loops - half, Rows: runs[0].Rows},
		}, nil
	case 2:
		return [2]Stage{runs[0], runs[1]}, nil
	}
	return [2]Stage{}, fmt.Errorf("%w: %d row length runs, the encoder supports 1 or 2",
		dvbs2.ErrMalformedTable, len(runs))
}

// Describe computes the ROM metadata for the base groups of params
func Describe(groups []Group, params dvbs2.LDPCParams) (Metadata, error) {
	st, err := stages(groups)
	if err != nil {
		return Metadata{}, fmt.Errorf("%s: %w", params.Key(), err)
	}

	md := Metadata{
		Key:    params.Key(),
		Q:      params.Q,
		Depth:  len(groups),
		Stages: st,
	}
	for _, g := range groups {
		md.Coefficients += len(g)
		if len(g) > md.Width {
			md.Width = len(g)
		}
	}
	return md, nil
}

// BaseGroups recovers the base groups of a compiled table from the first
// rotation of each block. Coefficients come back reduced modulo M.
func BaseGroups(t *Table) []Group {
	var groups []Group
	for _, e := range t.Entries {
		if e.Bit%dvbs2.GroupSize != 0 {
			continue
		}
		g := e.Bit / dvbs2.GroupSize
		if g == len(groups) {
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], e.Offset)
	}
	return groups
}

// DescribeTable computes the ROM metadata of an already compiled table
func DescribeTable(t *Table) (Metadata, error) {
	return Describe(BaseGroups(t), t.Params)
}

// Layout assigns consecutive start addresses in a concatenated base ROM, in
// the order given
func Layout(metas []Metadata) []Metadata {
	out := make([]Metadata, len(metas))
	addr := 0
	for i, md := range metas {
		md.Addr = addr
		out[i] = md
		addr += md.Coefficients
	}
	return out
}
