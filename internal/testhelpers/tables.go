package testhelpers

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
)

// Row weights of the synthetic tables. EN 302 307 tables start with a block
// of heavy rows followed by weight-3 rows; the same two-stage shape is used here.
const (
	HeavyRowWeight = 8
	LightRowWeight = 3
)

// SyntheticGroups builds a deterministic coefficient table with the right
// number of groups for key. Values are not the standard's, but they are
// in range and shaped like it: the first third of the groups carry
// HeavyRowWeight columns, the rest LightRowWeight.
func SyntheticGroups(key dvbs2.Key) ([]ldpc.Group, error) {
	params, err := dvbs2.LookupLDPC(key.Frame, key.Rate)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(uint64(key.Frame)+1, uint64(key.Rate)+1))
	count := params.Groups()
	heavy := count / 3

	groups := make([]ldpc.Group, count)
	for i := range groups {
		weight := LightRowWeight
		if i < heavy {
			weight = HeavyRowWeight
		}
		g := make(ldpc.Group, weight)
		for j := range g {
			g[j] = rng.IntN(params.M)
		}
		groups[i] = g
	}
	return groups, nil
}

// FormatGroups renders groups in the coefficient file format
func FormatGroups(groups []ldpc.Group) string {
	var sb strings.Builder
	for _, g := range groups {
		for j, v := range g {
			if j > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(strconv.Itoa(v))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// WriteSyntheticTable writes the synthetic table for key into dir under its
// conventional file name and returns the path
func WriteSyntheticTable(dir string, key dvbs2.Key) (string, error) {
	groups, err := SyntheticGroups(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ldpc.TableFileName(key))
	if err := os.WriteFile(path, []byte(FormatGroups(groups)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
