package memtable

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"snapdb/pkg/config"
	"snapdb/pkg/dberrors"
	"snapdb/pkg/keys"
	"snapdb/pkg/ordmap"
	"snapdb/pkg/sstable"
)

// Item is the latest write of a key.
type Item struct {
	Value     []byte
	Tombstone bool
	SeqN      uint64
}

// Memtable buffers writes in key order until they are flushed to a level 0
// table.
type Memtable[K any] struct {
	threshold uint64
	codec     keys.Codec[K]
	size      atomic.Uint64

	underlying *skipmap.FuncMap[K, Item]
}

func New[K any](cfg config.MemtableConfig, codec keys.Codec[K]) *Memtable[K] {
	return &Memtable[K]{
		threshold: uint64(cfg.FlushThresholdBytes),
		codec:     codec,
		underlying: skipmap.NewFunc[K, Item](func(a, b K) bool {
			return codec.Compare(a, b) < 0
		}),
	}
}

func (mt *Memtable[K]) Get(k K) (Item, bool) {
	return mt.underlying.Load(k)
}

// Upsert records the write. Size accounting is approximate: overwritten
// entries are not subtracted.
func (mt *Memtable[K]) Upsert(k K, it Item) error {
	const (
		seqNSize = 8
		mdSize   = 8
	)
	entSize := uint64(len(mt.codec.Format(k))) + uint64(len(it.Value)) + seqNSize + mdSize
	if entSize > mt.threshold {
		return dberrors.ErrTooLargeEntry
	}

	mt.underlying.Store(k, it)
	mt.size.Add(entSize)
	return nil
}

// Full reports whether the memtable reached its flush threshold.
func (mt *Memtable[K]) Full() bool {
	return mt.size.Load() >= mt.threshold
}

func (mt *Memtable[K]) Len() int {
	return mt.underlying.Len()
}

func (mt *Memtable[K]) Size() uint64 {
	return mt.size.Load()
}

// Sorted returns the content as an ordered map ready for the table writer.
func (mt *Memtable[K]) Sorted() *ordmap.Tree[K, sstable.Entry] {
	tree := ordmap.New[K, sstable.Entry](mt.codec.Compare)
	mt.underlying.Range(func(k K, it Item) bool {
		tree = tree.Insert(k, sstable.Entry{Data: it.Value, Tombstone: it.Tombstone})
		return true
	})
	return tree
}
