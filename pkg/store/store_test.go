package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"snapdb/pkg/config"
	"snapdb/pkg/dberrors"
	"snapdb/pkg/keys"
	"snapdb/pkg/manifest"
	"snapdb/pkg/sstable"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.DB {
	cfg := config.Default().DB
	cfg.Path = t.TempDir()
	cfg.Compaction.SizeUnit = 1
	return cfg
}

func openString(t *testing.T, cfg config.DB) *Store[string] {
	t.Helper()
	s, err := Open(cfg, keys.StringCodec, quietLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func mustGet(t *testing.T, s *Store[string], key, want string) {
	t.Helper()
	got, found, err := s.GetString(key)
	if err != nil {
		t.Fatalf("GetString(%s) failed: %v", key, err)
	}
	if !found {
		t.Fatalf("key %s not found", key)
	}
	if got != want {
		t.Fatalf("GetString(%s) = %q, want %q", key, got, want)
	}
}

func mustMiss(t *testing.T, s *Store[string], key string) {
	t.Helper()
	_, found, err := s.GetString(key)
	if err != nil {
		t.Fatalf("GetString(%s) failed: %v", key, err)
	}
	if found {
		t.Fatalf("key %s must be absent", key)
	}
}

// TestLSMTreeFlow walks data from the memtable through level 0 into the
// compacted levels.
func TestLSMTreeFlow(t *testing.T) {
	s := openString(t, testConfig(t))
	defer s.Close()

	t.Run("MemtableOperations", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			if err := s.PutString(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i)); err != nil {
				t.Fatalf("PutString failed: %v", err)
			}
		}
		for i := 0; i < 5; i++ {
			mustGet(t, s, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
		}
	})

	t.Run("Flush", func(t *testing.T) {
		if err := s.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if s.MemtableLen() != 0 {
			t.Fatalf("memtable not empty after flush")
		}
		for i := 0; i < 5; i++ {
			mustGet(t, s, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
		}
	})

	t.Run("UpdateAndDeleteAcrossTables", func(t *testing.T) {
		if err := s.PutString("key0", "updated"); err != nil {
			t.Fatalf("PutString failed: %v", err)
		}
		if err := s.Delete("key1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		mustGet(t, s, "key0", "updated")
		mustMiss(t, s, "key1")

		if err := s.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		mustGet(t, s, "key0", "updated")
		mustMiss(t, s, "key1")
	})

	t.Run("Compact", func(t *testing.T) {
		rep, err := s.Compact(context.Background())
		if err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		if len(rep.Files) == 0 {
			t.Fatalf("compaction deleted no tables")
		}

		stats, err := s.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats[0].Files != 0 {
			t.Fatalf("level 0 still holds %d tables", stats[0].Files)
		}

		mustGet(t, s, "key0", "updated")
		mustMiss(t, s, "key1")
		for i := 2; i < 5; i++ {
			mustGet(t, s, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
		}
	})
}

func TestStore_DeletedKeyGoneAfterCompaction(t *testing.T) {
	cfg := testConfig(t)
	s := openString(t, cfg)
	defer s.Close()

	s.PutString("a", "1")
	s.PutString("b", "2")
	s.Flush()
	s.Delete("b")
	s.Flush()

	if _, err := s.Compact(context.Background()); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	mustMiss(t, s, "b")
	mustGet(t, s, "a", "1")

	// no table keeps a tombstone for b: nothing older exists
	m := manifest.Load(cfg.Path, nil)
	for _, lvl := range m.Levels {
		for _, f := range lvl.Files {
			tbl, err := s.table(f.ID)
			if err != nil {
				t.Fatalf("open table %d: %v", f.ID, err)
			}
			if e, ok, _ := tbl.Get("b"); ok {
				t.Fatalf("table %d still has b (tombstone=%v)", f.ID, e.Tombstone)
			}
		}
	}
}

func TestStore_ReplaysJournal(t *testing.T) {
	cfg := testConfig(t)
	s := openString(t, cfg)
	s.PutString("k", "v")
	s.Delete("gone")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s = openString(t, cfg)
	defer s.Close()
	if s.MemtableLen() != 2 {
		t.Fatalf("replayed %d keys, want 2", s.MemtableLen())
	}
	mustGet(t, s, "k", "v")
	mustMiss(t, s, "gone")
}

func TestStore_FlushOnCloseWithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.WAL.Enabled = false
	s := openString(t, cfg)
	s.PutString("k", "v")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s = openString(t, cfg)
	defer s.Close()
	if s.MemtableLen() != 0 {
		t.Fatalf("memtable should start empty")
	}
	mustGet(t, s, "k", "v")
}

func TestStore_AutoFlushAndCompact(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memtable.FlushThresholdBytes = 128
	cfg.Compaction.AutoCompact = true
	s := openString(t, cfg)

	for i := 0; i < 200; i++ {
		if err := s.PutString(fmt.Sprintf("k%03d", i), fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("PutString failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s = openString(t, cfg)
	defer s.Close()
	for i := 0; i < 200; i++ {
		mustGet(t, s, fmt.Sprintf("k%03d", i), fmt.Sprintf("v%d", i))
	}
}

func TestStore_CompactionRunning(t *testing.T) {
	s := openString(t, testConfig(t))
	defer s.Close()

	s.compacting.Store(true)
	_, err := s.Compact(context.Background())
	if !errors.Is(err, dberrors.ErrCompactionRunning) {
		t.Fatalf("err = %v, want ErrCompactionRunning", err)
	}
	s.compacting.Store(false)
}

func TestStore_Closed(t *testing.T) {
	s := openString(t, testConfig(t))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.PutString("k", "v"); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Put err = %v, want ErrClosed", err)
	}
	if _, _, err := s.Get("k"); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("Get err = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestStore_KeyTypeMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeyType = "number"
	if _, err := Open(cfg, keys.StringCodec, quietLogger()); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestStore_NumberKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeyType = "number"
	s, err := Open(cfg, keys.NumberCodec, quietLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	for _, k := range []float64{10, 2, 33.5} {
		if err := s.PutString(k, fmt.Sprint(k)); err != nil {
			t.Fatalf("PutString failed: %v", err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	s.PutString(7, "7")
	s.Flush()
	if _, err := s.Compact(context.Background()); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	for _, k := range []float64{10, 2, 33.5, 7} {
		got, found, err := s.GetString(k)
		if err != nil || !found || got != fmt.Sprint(k) {
			t.Fatalf("GetString(%v) = %q %v %v", k, got, found, err)
		}
	}
	if _, found, _ := s.GetString(3); found {
		t.Fatalf("3 was never written")
	}
}

func TestStore_ConcurrentOperations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memtable.FlushThresholdBytes = 512
	s := openString(t, cfg)
	defer s.Close()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := s.PutString(fmt.Sprintf("w%d-%03d", w, i), fmt.Sprint(i)); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("PutString failed: %v", err)
	}

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			mustGet(t, s, fmt.Sprintf("w%d-%03d", w, i), fmt.Sprint(i))
		}
	}
}

func TestStore_CancelledCompactStillApplies(t *testing.T) {
	cfg := testConfig(t)
	s := openString(t, cfg)
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.PutString(fmt.Sprintf("key%d", i), "v"); err != nil {
			t.Fatalf("PutString failed: %v", err)
		}
		if err := s.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Compact(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Compact failed: %v", err)
	}
	s.bg.Wait()

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[0].Files != 0 {
		t.Fatalf("pass result not applied: level 0 holds %d tables", stats[0].Files)
	}

	if err := s.PutString("late", "v"); err != nil {
		t.Fatalf("PutString failed: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	m := manifest.Load(cfg.Path, nil)
	if len(m.Levels[0].Files) != 1 {
		t.Fatalf("level 0 on disk holds %d tables, want 1", len(m.Levels[0].Files))
	}
	seen := map[uint64]bool{}
	for _, lvl := range m.Levels {
		for _, ref := range lvl.Files {
			if seen[ref.ID] {
				t.Fatalf("table %d listed twice", ref.ID)
			}
			seen[ref.ID] = true
			if _, err := sstable.Size(cfg.Path, ref.ID); err != nil {
				t.Fatalf("table %d missing: %v", ref.ID, err)
			}
		}
	}
	idx, err := filepath.Glob(filepath.Join(cfg.Path, "*"+sstable.IndexExt))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(idx) != len(seen) {
		t.Fatalf("%d tables on disk, %d in the manifest", len(idx), len(seen))
	}

	for i := 0; i < 3; i++ {
		mustGet(t, s, fmt.Sprintf("key%d", i), "v")
	}
	mustGet(t, s, "late", "v")
}

func TestStore_ReadsAndWritesDuringPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memtable.FlushThresholdBytes = 64
	s := openString(t, cfg)
	defer s.Close()

	s.PutString("a", "1")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// hold the manifest the way a running pass does
	s.passMu.Lock()
	held := true
	defer func() {
		if held {
			s.passMu.Unlock()
		}
	}()
	mustGet(t, s, "a", "1")
	for i := 0; i < 10; i++ {
		if err := s.PutString(fmt.Sprintf("k%d", i), "xxxxxxxx"); err != nil {
			t.Fatalf("PutString failed: %v", err)
		}
	}
	n := s.MemtableLen()
	s.passMu.Unlock()
	held = false
	if n != 10 {
		t.Fatalf("memtable holds %d keys, flush must wait for the pass", n)
	}

	if err := s.PutString("z", "1"); err != nil {
		t.Fatalf("PutString failed: %v", err)
	}
	if s.MemtableLen() != 0 {
		t.Fatalf("deferred flush did not run")
	}
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[0].Files != 2 {
		t.Fatalf("level 0 holds %d tables, want 2", stats[0].Files)
	}
	mustGet(t, s, "k9", "xxxxxxxx")
}

func TestStore_CloseDuringWrites(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memtable.FlushThresholdBytes = 128
	cfg.Compaction.AutoCompact = true
	s := openString(t, cfg)

	const workers = 4
	started := make(chan struct{}, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			signalled := false
			defer func() {
				if !signalled {
					started <- struct{}{}
				}
			}()
			for i := 0; i < 500; i++ {
				err := s.PutString(fmt.Sprintf("w%d-%03d", w, i), "v")
				if errors.Is(err, dberrors.ErrClosed) {
					return
				}
				if err != nil {
					errs <- err
					return
				}
				if i == 10 {
					signalled = true
					started <- struct{}{}
				}
			}
		}(w)
	}
	for w := 0; w < workers; w++ {
		<-started
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("PutString failed: %v", err)
	}
}
