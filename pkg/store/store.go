// Package store is an embedded LSM key-value store: writes go to a write
// ahead log and a memtable, full memtables are flushed as level 0 tables,
// and compaction passes run on a background worker.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"snapdb/pkg/compaction"
	"snapdb/pkg/config"
	"snapdb/pkg/dberrors"
	"snapdb/pkg/keys"
	"snapdb/pkg/manifest"
	"snapdb/pkg/memtable"
	"snapdb/pkg/sstable"
	"snapdb/pkg/wal"
)

type Store[K any] struct {
	cfg   config.DB
	dir   string
	codec keys.Codec[K]
	log   *slog.Logger

	mu       sync.RWMutex
	mt       *memtable.Memtable[K]
	jr       *wal.WAL
	manifest *manifest.Manifest
	closed   bool
	seqN     atomic.Uint64

	tablesMu sync.Mutex
	tables   map[uint64]*sstable.Table[K]

	// passMu is held for a whole compaction pass and by every flush, so
	// the manifest on disk has one writer at a time.
	passMu     sync.Mutex
	worker     *compaction.Worker
	compacting atomic.Bool
	// bg tracks compaction goroutines. Add is only called under mu while
	// the store is open.
	bg     sync.WaitGroup
	cancel context.CancelFunc
}

// Open opens the store in cfg.Path, replaying the write ahead log into a
// fresh memtable.
func Open[K any](cfg config.DB, codec keys.Codec[K], log *slog.Logger) (*Store[K], error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.KeyType != "" && keys.Type(cfg.KeyType) != codec.Type {
		return nil, fmt.Errorf("%w: store configured for %q keys, opened with %q",
			dberrors.ErrInvalidArgument, cfg.KeyType, codec.Type)
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store[K]{
		cfg:      cfg,
		dir:      cfg.Path,
		codec:    codec,
		log:      log.With("component", "store"),
		mt:       memtable.New(cfg.Memtable, codec),
		manifest: manifest.Load(cfg.Path, log),
		tables:   make(map[uint64]*sstable.Table[K]),
	}

	if cfg.WAL.Enabled {
		jr, err := wal.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		s.jr = jr
		if err := s.restoreFromJournal(); err != nil {
			jr.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.worker = compaction.NewWorker(compaction.Options{
		SizeUnit:          cfg.Compaction.SizeUnit,
		FalsePositiveRate: cfg.Compaction.BloomFPRate,
		Logger:            log,
	})
	s.worker.Start(ctx)

	s.log.Info("store opened", "path", cfg.Path, "keyType", codec.Type,
		"tables", s.manifest.FileCount(), "replayed", s.mt.Len())
	return s, nil
}

func (s *Store[K]) restoreFromJournal() error {
	return s.jr.Replay(func(e wal.Entry) error {
		k, err := s.codec.Parse(string(e.Key))
		if err != nil {
			return err
		}
		if e.SeqNum > s.seqN.Load() {
			s.seqN.Store(e.SeqNum)
		}
		return s.mt.Upsert(k, memtable.Item{
			Value:     e.Value,
			Tombstone: e.Op == wal.OpDelete,
			SeqN:      e.SeqNum,
		})
	})
}

func (s *Store[K]) Put(key K, value []byte) error {
	return s.write(key, value, wal.OpPut)
}

func (s *Store[K]) PutString(key K, value string) error {
	return s.Put(key, []byte(value))
}

func (s *Store[K]) Delete(key K) error {
	return s.write(key, nil, wal.OpDelete)
}

func (s *Store[K]) write(key K, value []byte, op wal.Op) error {
	autoCompact, err := s.writeLocked(key, value, op)
	if err != nil {
		return err
	}
	if autoCompact {
		go func() {
			defer s.bg.Done()
			_, err := s.Compact(context.Background())
			switch {
			case err == nil, errors.Is(err, dberrors.ErrCompactionRunning), errors.Is(err, dberrors.ErrClosed):
			default:
				s.log.Error("background compaction failed", "error", err)
			}
		}()
	}
	return nil
}

// writeLocked applies one write. autoCompact reports that the memtable was
// flushed and a background pass has been registered in bg.
func (s *Store[K]) writeLocked(key K, value []byte, op wal.Op) (autoCompact bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, dberrors.ErrClosed
	}

	seq := s.seqN.Add(1)
	if s.jr != nil {
		if err := s.jr.Append(wal.Entry{
			SeqNum: seq,
			Op:     op,
			Key:    []byte(s.codec.Format(key)),
			Value:  value,
		}); err != nil {
			return false, err
		}
	}

	if err := s.mt.Upsert(key, memtable.Item{Value: value, Tombstone: op == wal.OpDelete, SeqN: seq}); err != nil {
		return false, err
	}
	if !s.mt.Full() {
		return false, nil
	}
	// A running pass owns the manifest; the memtable keeps growing and the
	// first write after the pass flushes it.
	if !s.passMu.TryLock() {
		return false, nil
	}
	err = s.flushLocked()
	s.passMu.Unlock()
	if err != nil {
		return false, err
	}
	if !s.cfg.Compaction.AutoCompact {
		return false, nil
	}
	s.bg.Add(1)
	return true, nil
}

// Get returns the newest value of key. found is false for absent and
// deleted keys.
func (s *Store[K]) Get(key K) (value []byte, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, dberrors.ErrClosed
	}

	if it, ok := s.mt.Get(key); ok {
		if it.Tombstone {
			return nil, false, nil
		}
		return it.Value, true, nil
	}

	for i, lvl := range s.manifest.Levels {
		for j := len(lvl.Files) - 1; j >= 0; j-- {
			ref := lvl.Files[j]
			lo, hi, err := s.codec.ParseRange(ref.Range)
			if err != nil {
				return nil, false, fmt.Errorf("range of table %d: %w", ref.ID, err)
			}
			if s.codec.Compare(key, lo) < 0 || s.codec.Compare(key, hi) > 0 {
				continue
			}
			tbl, err := s.table(ref.ID)
			if err != nil {
				return nil, false, fmt.Errorf("level %d: %w", i, err)
			}
			e, ok, err := tbl.Get(key)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			if e.Tombstone {
				return nil, false, nil
			}
			return e.Data, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store[K]) GetString(key K) (string, bool, error) {
	v, found, err := s.Get(key)
	return string(v), found, err
}

func (s *Store[K]) table(id uint64) (*sstable.Table[K], error) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()

	if t, ok := s.tables[id]; ok {
		return t, nil
	}
	t, err := sstable.Open(s.dir, id, s.codec)
	if err != nil {
		return nil, err
	}
	s.tables[id] = t
	return t, nil
}

func (s *Store[K]) dropTables(ids []uint64) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	for _, id := range ids {
		delete(s.tables, id)
	}
}

// Close waits for running compaction passes, stops the worker, flushes the
// memtable when no write ahead log protects it and releases the log.
func (s *Store[K]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.bg.Wait()
	s.cancel()
	s.worker.Stop()

	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.jr == nil {
		errs = append(errs, s.flushLocked())
	} else {
		errs = append(errs, s.jr.Close())
	}
	s.log.Info("store closed", "path", s.dir)
	return errors.Join(errs...)
}
