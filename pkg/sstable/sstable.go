// Package sstable writes and reads immutable sorted tables. A table with id
// N is three files in the store directory:
//
//	<N>.dta  values concatenated in key order
//	<N>.idx  per key: [u32 keyLen][key][i64 offset][i64 length], offset -1
//	         marks a tombstone
//	<N>.bom  bloom filter over the keys, see package bloom
package sstable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DataExt  = ".dta"
	IndexExt = ".idx"
	BloomExt = ".bom"

	tombstoneOffset = -1
)

var Exts = []string{DataExt, IndexExt, BloomExt}

// Entry is a value as it travels through a merge buffer.
type Entry struct {
	Data      []byte
	Tombstone bool
}

// IndexEntry locates one key in the data file.
type IndexEntry struct {
	Key    string
	Offset int64
	Length int64
}

func (e IndexEntry) Tombstone() bool {
	return e.Offset == tombstoneOffset
}

// BaseName returns the zero-padded file stem for id.
func BaseName(id uint64) string {
	return fmt.Sprintf("%010d", id)
}

// Path returns the path of one of the table's files.
func Path(dir string, id uint64, ext string) string {
	return filepath.Join(dir, BaseName(id)+ext)
}

// Size sums the on-disk size of the table's three files.
func Size(dir string, id uint64) (int64, error) {
	var total int64
	for _, ext := range Exts {
		st, err := os.Stat(Path(dir, id, ext))
		if err != nil {
			return 0, fmt.Errorf("failed to stat table %d: %w", id, err)
		}
		total += st.Size()
	}
	return total, nil
}

// Remove deletes the table's files. Files already gone are ignored.
func Remove(dir string, id uint64) error {
	var errs []error
	for _, ext := range Exts {
		if err := os.Remove(Path(dir, id, ext)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
