package ldpc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

// Group is one base row of a quasi-cyclic parity-check description: the
// parity addresses touched by the first information bit of a 360-bit block
type Group []int

var tableNameRe = regexp.MustCompile(`ldpc_table_(FECFRAME_(?:NORMAL|SHORT))_(C\d_\d+)\.csv$`)

// TableFileName returns the conventional coefficient file name for key
func TableFileName(key dvbs2.Key) string {
	return fmt.Sprintf("ldpc_table_%s_%s.csv", key.Frame, key.Rate)
}

// ParseTableFileName extracts the key encoded in a coefficient file name
func ParseTableFileName(name string) (dvbs2.Key, error) {
	m := tableNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return dvbs2.Key{}, fmt.Errorf("%q is not an LDPC table file name", name)
	}
	frame, err := dvbs2.ParseFrameSize(m[1])
	if err != nil {
		return dvbs2.Key{}, err
	}
	rate, err := dvbs2.ParseCodeRate(m[2])
	if err != nil {
		return dvbs2.Key{}, err
	}
	return dvbs2.Key{Frame: frame, Rate: rate}, nil
}

// ReadGroups parses one comma separated group per non-blank line, in file
// order. Column ranges are not checked here.
func ReadGroups(r io.Reader) ([]Group, error) {
	var groups []Group

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		group := make(Group, 0, len(fields))
		for col, field := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: line %d column %d: %q is not a non-negative integer",
					dvbs2.ErrMalformedTable, lineNo, col+1, field)
			}
			group = append(group, v)
		}
		groups = append(groups, group)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}

	return groups, nil
}

// LoadGroups reads a coefficient file, prefixing errors with its path
func LoadGroups(path string) ([]Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	groups, err := ReadGroups(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return groups, nil
}
