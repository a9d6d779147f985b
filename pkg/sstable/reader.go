package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"snapdb/pkg/bloom"
	"snapdb/pkg/dberrors"
	"snapdb/pkg/keys"
	"snapdb/pkg/ordmap"
)

// Record is one key of a table with its value loaded.
type Record struct {
	Key string
	Entry
}

// ReadIndex decodes the index file of table id.
func ReadIndex(dir string, id uint64) ([]IndexEntry, error) {
	raw, err := os.ReadFile(Path(dir, id, IndexExt))
	if err != nil {
		return nil, fmt.Errorf("failed to read index of table %d: %w", id, err)
	}
	var out []IndexEntry
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, fmt.Errorf("index of table %d truncated: %w", id, dberrors.ErrCorrupted)
		}
		n := int(binary.LittleEndian.Uint32(raw[:4]))
		raw = raw[4:]
		if len(raw) < n+16 {
			return nil, fmt.Errorf("index of table %d truncated: %w", id, dberrors.ErrCorrupted)
		}
		e := IndexEntry{
			Key:    string(raw[:n]),
			Offset: int64(binary.LittleEndian.Uint64(raw[n : n+8])),
			Length: int64(binary.LittleEndian.Uint64(raw[n+8 : n+16])),
		}
		raw = raw[n+16:]
		out = append(out, e)
	}
	return out, nil
}

// ReadAll loads every key of table id in key order together with its value.
func ReadAll(dir string, id uint64) ([]Record, error) {
	index, err := ReadIndex(dir, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(Path(dir, id, DataExt))
	if err != nil {
		return nil, fmt.Errorf("failed to read data of table %d: %w", id, err)
	}

	out := make([]Record, 0, len(index))
	for _, ie := range index {
		if ie.Tombstone() {
			out = append(out, Record{Key: ie.Key, Entry: Entry{Tombstone: true}})
			continue
		}
		end := ie.Offset + ie.Length
		if ie.Offset < 0 || ie.Length < 0 || end > int64(len(data)) {
			return nil, fmt.Errorf("table %d: value of %q out of bounds: %w", id, ie.Key, dberrors.ErrCorrupted)
		}
		out = append(out, Record{Key: ie.Key, Entry: Entry{Data: data[ie.Offset:end:end]}})
	}
	return out, nil
}

// ReadBloom loads the bloom filter of table id.
func ReadBloom(dir string, id uint64) (*bloom.Filter, error) {
	return bloom.ReadFile(Path(dir, id, BloomExt))
}

// Table serves point lookups from one table. The index is held in memory;
// values are read from the data file on demand.
type Table[K any] struct {
	ID    uint64
	dir   string
	codec keys.Codec[K]
	index *ordmap.Tree[K, IndexEntry]
	bloom *bloom.Filter
}

// Open loads the index and bloom filter of table id.
func Open[K any](dir string, id uint64, codec keys.Codec[K]) (*Table[K], error) {
	entries, err := ReadIndex(dir, id)
	if err != nil {
		return nil, err
	}
	filter, err := ReadBloom(dir, id)
	if err != nil {
		return nil, err
	}
	index := ordmap.New[K, IndexEntry](codec.Compare)
	for _, e := range entries {
		k, err := codec.Parse(e.Key)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", id, err)
		}
		index = index.Insert(k, e)
	}
	return &Table[K]{ID: id, dir: dir, codec: codec, index: index, bloom: filter}, nil
}

// Len returns the number of keys, tombstones included.
func (t *Table[K]) Len() int {
	return t.index.Len()
}

// Get looks key up. found is false when the table has no entry for key; a
// tombstone is reported as found with Entry.Tombstone set.
func (t *Table[K]) Get(key K) (e Entry, found bool, err error) {
	if !t.bloom.MayContain(t.codec.Format(key)) {
		return Entry{}, false, nil
	}
	ie, ok := t.index.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	if ie.Tombstone() {
		return Entry{Tombstone: true}, true, nil
	}

	f, err := os.Open(Path(t.dir, t.ID, DataExt))
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to open data of table %d: %w", t.ID, err)
	}
	defer f.Close()

	buf := make([]byte, ie.Length)
	if _, err := f.ReadAt(buf, ie.Offset); err != nil && err != io.EOF {
		return Entry{}, false, fmt.Errorf("failed to read value from table %d: %w", t.ID, err)
	}
	return Entry{Data: buf}, true, nil
}

