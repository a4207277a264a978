package ldpc

import "fmt"

// Encode computes the M parity bits for K information bits the way the
// accumulate encoder does: every entry XORs info bit Bit into parity
// address Offset, then a running XOR walks the parity vector. Bits are
// one per byte, any non-zero byte counts as 1.
func Encode(table *Table, info []byte) ([]byte, error) {
	k, m := table.Params.K(), table.Params.M
	if len(info) != k {
		return nil, fmt.Errorf("%s: got %d information bits, expected %d",
			table.Params.Key(), len(info), k)
	}

	parity := make([]byte, m)
	for _, e := range table.Entries {
		if info[e.Bit] != 0 {
			parity[e.Offset] ^= 1
		}
	}
	for i := 1; i < m; i++ {
		parity[i] ^= parity[i-1]
	}
	return parity, nil
}
