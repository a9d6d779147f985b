package sstable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"snapdb/pkg/bloom"
	"snapdb/pkg/keys"
	"snapdb/pkg/manifest"
	"snapdb/pkg/ordmap"
)

var ErrEmptyTable = errors.New("sstable: no entries to write")

const DefaultFalsePositiveRate = 0.01

type genOptions struct {
	fpRate float64
}

// Option tunes Generate.
type Option func(*genOptions)

// WithFalsePositiveRate sets the bloom filter target rate.
func WithFalsePositiveRate(p float64) Option {
	return func(o *genOptions) { o.fpRate = p }
}

// Generate writes tree as a new table, registers it as the newest table of
// level in m and returns its manifest entry. m is only changed on success.
func Generate[K any](
	level int,
	m *manifest.Manifest,
	dir string,
	tree *ordmap.Tree[K, Entry],
	codec keys.Codec[K],
	opts ...Option,
) (manifest.FileRef, error) {
	if tree.Len() == 0 {
		return manifest.FileRef{}, ErrEmptyTable
	}
	o := genOptions{fpRate: DefaultFalsePositiveRate}
	for _, opt := range opts {
		opt(&o)
	}

	id := m.Inc
	if err := writeTable(dir, id, tree, codec, o); err != nil {
		_ = Remove(dir, id)
		return manifest.FileRef{}, err
	}

	lo, _, _ := tree.Min()
	hi, _, _ := tree.Max()
	ref := manifest.FileRef{
		ID:    m.NextID(),
		Range: [2]string{codec.Format(lo), codec.Format(hi)},
	}
	m.Add(level, ref)
	return ref, nil
}

func writeTable[K any](dir string, id uint64, tree *ordmap.Tree[K, Entry], codec keys.Codec[K], o genOptions) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create table directory: %w", err)
	}

	dataFile, err := os.Create(Path(dir, id, DataExt))
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	defer dataFile.Close()
	indexFile, err := os.Create(Path(dir, id, IndexExt))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer indexFile.Close()

	data := bufio.NewWriter(dataFile)
	index := bufio.NewWriter(indexFile)
	filter := bloom.New(tree.Len(), o.fpRate, uint32(id))

	var (
		offset int64
		werr   error
	)
	tree.ForEach(func(k K, e Entry) bool {
		key := codec.Format(k)
		filter.Add(key)

		ie := IndexEntry{Key: key, Offset: tombstoneOffset}
		if !e.Tombstone {
			ie.Offset = offset
			ie.Length = int64(len(e.Data))
			if _, werr = data.Write(e.Data); werr != nil {
				return false
			}
			offset += ie.Length
		}
		werr = writeIndexEntry(index, ie)
		return werr == nil
	})
	if werr != nil {
		return fmt.Errorf("failed to write table %d: %w", id, werr)
	}

	for _, step := range []struct {
		w *bufio.Writer
		f *os.File
	}{{data, dataFile}, {index, indexFile}} {
		if err := step.w.Flush(); err != nil {
			return fmt.Errorf("failed to flush table %d: %w", id, err)
		}
		if err := step.f.Sync(); err != nil {
			return fmt.Errorf("failed to sync table %d: %w", id, err)
		}
	}

	return filter.WriteFile(Path(dir, id, BloomExt))
}

func writeIndexEntry(w *bufio.Writer, e IndexEntry) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(e.Key)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(e.Key); err != nil {
		return err
	}
	var pos [16]byte
	binary.LittleEndian.PutUint64(pos[0:8], uint64(e.Offset))
	binary.LittleEndian.PutUint64(pos[8:16], uint64(e.Length))
	_, err := w.Write(pos[:])
	return err
}
