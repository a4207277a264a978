package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
)

// TableFileName is the address table file inside a key's directory
const TableFileName = "ldpc_table.bin"

// Store lays out compiled address tables under Dir, one directory per code:
//
//	<Dir>/FECFRAME_NORMAL_C1_2/ldpc_table.bin
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Path returns the address table path for key
func (s *Store) Path(key dvbs2.Key) string {
	return filepath.Join(s.Dir, key.String(), TableFileName)
}

// Load reads and fully validates the stored table for key
func (s *Store) Load(key dvbs2.Key) (*ldpc.Table, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	table, err := ldpc.ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path(key), err)
	}
	if table.Params.Key() != key {
		return nil, fmt.Errorf("%s: %w: holds %s", s.Path(key), ldpc.ErrCorruptTable, table.Params.Key())
	}
	return table, nil
}

// Valid reports whether a structurally sound table for key is stored. A
// missing, truncated or corrupt file is not valid.
func (s *Store) Valid(key dvbs2.Key) bool {
	_, err := s.Load(key)
	return err == nil
}

// Save writes table atomically and returns the number of bytes written
func (s *Store) Save(table *ldpc.Table) (int64, error) {
	var n int64
	err := WriteAtomic(s.Path(table.Params.Key()), func(w io.Writer) error {
		var err error
		n, err = table.WriteTo(w)
		return err
	})
	return n, err
}

// WriteAtomic writes a file via a temporary file in the same directory and
// renames it into place once write succeeds. On failure no file appears at
// path and an existing one is left untouched.
func WriteAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// IsMissing reports whether err means the artifact does not exist yet
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
