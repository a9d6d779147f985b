package store

import (
	"context"
	"fmt"

	"snapdb/pkg/compaction"
	"snapdb/pkg/dberrors"
	"snapdb/pkg/manifest"
	"snapdb/pkg/memtable"
	"snapdb/pkg/sstable"
)

// Flush writes the memtable as a new level 0 table.
func (s *Store[K]) Flush() error {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dberrors.ErrClosed
	}
	return s.flushLocked()
}

// flushLocked needs mu and passMu.
func (s *Store[K]) flushLocked() error {
	if s.mt.Len() == 0 {
		return nil
	}

	snapshot := s.mt.Sorted()
	next := s.manifest.Clone()
	ref, err := sstable.Generate(0, next, s.dir, snapshot, s.codec,
		sstable.WithFalsePositiveRate(s.cfg.Compaction.BloomFPRate))
	if err != nil {
		return fmt.Errorf("failed to flush memtable: %w", err)
	}
	if err := manifest.WriteUpdate(s.dir, next); err != nil {
		_ = sstable.Remove(s.dir, ref.ID)
		return fmt.Errorf("failed to flush memtable: %w", err)
	}
	s.manifest = next

	if s.jr != nil {
		if err := s.jr.Reset(); err != nil {
			return err
		}
	}
	s.log.Debug("memtable flushed", "id", ref.ID, "entries", snapshot.Len(), "bytes", s.mt.Size())
	s.mt = memtable.New(s.cfg.Memtable, s.codec)
	return nil
}

type passResult struct {
	rep compaction.Report
	err error
}

// Compact runs one compaction pass on the worker and waits for it. Only one
// pass may run at a time. Cancelling ctx stops the wait, not the pass: its
// result is still applied to the store in the background.
func (s *Store[K]) Compact(ctx context.Context) (compaction.Report, error) {
	if !s.compacting.CompareAndSwap(false, true) {
		return compaction.Report{}, dberrors.ErrCompactionRunning
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.compacting.Store(false)
		return compaction.Report{}, dberrors.ErrClosed
	}
	s.bg.Add(1)
	s.mu.Unlock()

	done := make(chan passResult, 1)
	go func() {
		defer s.bg.Done()
		rep, err := s.runPass(context.WithoutCancel(ctx))
		s.compacting.Store(false)
		done <- passResult{rep: rep, err: err}
	}()

	select {
	case r := <-done:
		return r.rep, r.err
	case <-ctx.Done():
		return compaction.Report{}, ctx.Err()
	}
}

// runPass hands one request to the worker and applies its report. Reads go
// on during the pass; flushes wait for it.
func (s *Store[K]) runPass(ctx context.Context) (compaction.Report, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	req := compaction.NewRequest(s.dir, s.codec.Type, s.cfg.Compaction.BloomCache)
	if err := s.worker.Submit(ctx, req); err != nil {
		return compaction.Report{}, err
	}
	for rep := range s.worker.Reports() {
		if rep.ID != req.ID {
			s.log.Warn("skipping foreign compaction report", "id", rep.ID, "want", req.ID)
			continue
		}
		if rep.Err != nil {
			return rep, rep.Err
		}
		s.apply(rep)
		return rep, nil
	}
	return compaction.Report{}, dberrors.ErrClosed
}

// apply switches to the manifest written by the pass and deletes the tables
// it made obsolete.
func (s *Store[K]) apply(rep compaction.Report) {
	s.mu.Lock()
	s.manifest = manifest.Load(s.dir, s.log)
	s.dropTables(rep.Files)
	s.mu.Unlock()

	for _, id := range rep.Files {
		if err := sstable.Remove(s.dir, id); err != nil {
			s.log.Warn("failed to remove compacted table", "id", id, "error", err)
		}
	}
	s.log.Info("compaction applied", "id", rep.ID, "deleted", len(rep.Files),
		"merges", len(rep.Levels), "duration", rep.Duration)
}

// LevelStat summarizes one level.
type LevelStat struct {
	Level  int
	Files  int
	Bytes  int64
	Budget int64
}

// Stats reports the table layout.
func (s *Store[K]) Stats() ([]LevelStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit := s.cfg.Compaction.SizeUnit
	if unit <= 0 {
		unit = compaction.DefaultSizeUnit
	}
	out := make([]LevelStat, 0, len(s.manifest.Levels))
	for i, lvl := range s.manifest.Levels {
		st := LevelStat{Level: i, Files: len(lvl.Files), Budget: compaction.Budget(i, unit)}
		for _, f := range lvl.Files {
			n, err := sstable.Size(s.dir, f.ID)
			if err != nil {
				return nil, err
			}
			st.Bytes += n
		}
		out = append(out, st)
	}
	return out, nil
}

// MemtableLen returns the number of buffered keys.
func (s *Store[K]) MemtableLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mt.Len()
}
