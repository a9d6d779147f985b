// Package compaction runs leveled compaction passes over a store directory.
//
// Level i may hold up to 10^(i+1) size units of tables. A pass walks the
// levels from the top; a level over its budget pushes data one level down:
// level 0 is merged completely with level 1, deeper levels move one table
// (picked round-robin) together with the tables it overlaps below. Merging
// goes through a persistent ordered map, oldest table first, so the newest
// write of a key wins. Tombstones survive only while an older value may
// still exist further down.
package compaction

import (
	"errors"
	"fmt"
	"log/slog"

	"snapdb/pkg/keys"
	"snapdb/pkg/manifest"
	"snapdb/pkg/ordmap"
	"snapdb/pkg/sstable"
)

const DefaultSizeUnit int64 = 1 << 20

// Options tune an engine.
type Options struct {
	// SizeUnit is the budget base; level i holds 10^(i+1) units.
	SizeUnit          int64
	FalsePositiveRate float64
	Logger            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SizeUnit <= 0 {
		o.SizeUnit = DefaultSizeUnit
	}
	if o.FalsePositiveRate <= 0 || o.FalsePositiveRate >= 1 {
		o.FalsePositiveRate = sstable.DefaultFalsePositiveRate
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Budget returns the size limit of level.
func Budget(level int, unit int64) int64 {
	b := unit * 10
	for range level {
		b *= 10
	}
	return b
}

// LevelRecord describes one merge performed by a pass.
type LevelRecord struct {
	Level  int      `json:"level"`
	Size   int64    `json:"size"`
	Inputs []uint64 `json:"inputs"`
	// Output is only meaningful when Written is set; a merge that cancels
	// out completely writes nothing.
	Output  uint64 `json:"output"`
	Written bool   `json:"written"`
	Dropped int    `json:"dropped"`
}

// Result is the outcome of a pass.
type Result struct {
	Deleted  []uint64
	Levels   []LevelRecord
	Manifest *manifest.Manifest
}

// Engine compacts the tables in one directory ordered by one key kind.
type Engine[K any] struct {
	dir    string
	codec  keys.Codec[K]
	opts   Options
	blooms *BloomCache
	log    *slog.Logger
}

// NewEngine prepares an engine for dir. cache enables the bloom filter cache.
func NewEngine[K any](dir string, codec keys.Codec[K], cache bool, opts Options) *Engine[K] {
	opts = opts.withDefaults()
	return &Engine[K]{
		dir:    dir,
		codec:  codec,
		opts:   opts,
		blooms: NewBloomCache(dir, cache),
		log:    opts.Logger.With("component", "compaction", "dir", dir),
	}
}

// Blooms exposes the engine's bloom filter cache.
func (e *Engine[K]) Blooms() *BloomCache {
	return e.blooms
}

type scheduled struct {
	level int
	id    uint64
}

// pass holds the state of one Run.
type pass[K any] struct {
	*Engine[K]
	m       *manifest.Manifest
	gone    map[uint64]struct{}
	order   []scheduled
	written []uint64
}

// Run performs one pass. The manifest on disk is replaced only when the pass
// succeeds; tables written by a failed pass are removed again.
func (e *Engine[K]) Run() (res Result, err error) {
	p := &pass[K]{
		Engine: e,
		m:      manifest.Load(e.dir, e.log),
		gone:   make(map[uint64]struct{}),
	}
	defer e.blooms.Clear()
	defer func() {
		if err == nil {
			return
		}
		for _, id := range p.written {
			if rerr := sstable.Remove(e.dir, id); rerr != nil {
				e.log.Warn("failed to remove table of failed pass", "id", id, "error", rerr)
			}
		}
	}()

	for i := 0; i < len(p.m.Levels); i++ {
		size, err := p.levelSize(i)
		if err != nil {
			return Result{}, err
		}
		budget := Budget(i, e.opts.SizeUnit)
		if size <= budget {
			continue
		}
		e.log.Info("level over budget", "level", i, "size", size, "budget", budget)

		var rec LevelRecord
		if i == 0 {
			rec, err = p.compactFirst()
		} else {
			rec, err = p.compactLevel(i)
		}
		if err != nil {
			return Result{}, fmt.Errorf("compact level %d: %w", i, err)
		}
		rec.Size = size
		res.Levels = append(res.Levels, rec)
	}

	for _, s := range p.order {
		if p.m.Remove(s.level, s.id) {
			res.Deleted = append(res.Deleted, s.id)
		}
	}

	if err := manifest.WriteUpdate(e.dir, p.m); err != nil {
		return Result{}, err
	}
	res.Manifest = p.m

	e.log.Info("compaction pass done", "merges", len(res.Levels), "deleted", len(res.Deleted))
	return res, nil
}

// live returns the tables of level i that this pass has not scheduled.
func (p *pass[K]) live(i int) []manifest.FileRef {
	if i >= len(p.m.Levels) {
		return nil
	}
	var out []manifest.FileRef
	for _, f := range p.m.Levels[i].Files {
		if _, ok := p.gone[f.ID]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func (p *pass[K]) levelSize(i int) (int64, error) {
	var total int64
	for _, f := range p.live(i) {
		n, err := sstable.Size(p.dir, f.ID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (p *pass[K]) schedule(level int, id uint64) {
	if _, ok := p.gone[id]; ok {
		return
	}
	p.gone[id] = struct{}{}
	p.order = append(p.order, scheduled{level: level, id: id})
}

// compactFirst merges every level 0 and level 1 table into a new level 1
// table.
func (p *pass[K]) compactFirst() (LevelRecord, error) {
	rec := LevelRecord{Level: 0}
	buf := ordmap.New[K, sstable.Entry](p.codec.Compare)

	var err error
	for _, src := range []int{1, 0} {
		for _, f := range p.live(src) {
			if buf, err = p.load(buf, f, 1, &rec); err != nil {
				return rec, err
			}
			p.schedule(src, f.ID)
			rec.Inputs = append(rec.Inputs, f.ID)
		}
	}
	return rec, p.write(buf, 1, &rec)
}

// compactLevel moves the next table of level i, chosen round-robin, into
// level i+1 together with every table there that overlaps it.
func (p *pass[K]) compactLevel(i int) (LevelRecord, error) {
	rec := LevelRecord{Level: i}
	files := p.live(i)
	if len(files) == 0 {
		return rec, nil
	}

	lvl := p.m.Level(i)
	if lvl.Cursor >= len(files) || lvl.Cursor < 0 {
		lvl.Cursor = 0
	}
	picked := files[lvl.Cursor]
	lvl.Cursor++

	lo, hi, err := p.codec.ParseRange(picked.Range)
	if err != nil {
		return rec, fmt.Errorf("range of table %d: %w", picked.ID, err)
	}

	buf := ordmap.New[K, sstable.Entry](p.codec.Compare)
	for _, f := range p.live(i + 1) {
		start, end, err := p.codec.ParseRange(f.Range)
		if err != nil {
			return rec, fmt.Errorf("range of table %d: %w", f.ID, err)
		}
		if !overlaps(p.codec.Compare, start, end, lo, hi) {
			continue
		}
		if buf, err = p.load(buf, f, i+1, &rec); err != nil {
			return rec, err
		}
		p.schedule(i+1, f.ID)
		rec.Inputs = append(rec.Inputs, f.ID)
	}

	if buf, err = p.load(buf, picked, i+1, &rec); err != nil {
		return rec, err
	}
	p.schedule(i, picked.ID)
	rec.Inputs = append(rec.Inputs, picked.ID)

	return rec, p.write(buf, i+1, &rec)
}

// load applies table f on top of buf. target is the level the merge result
// is written to.
func (p *pass[K]) load(
	buf *ordmap.Tree[K, sstable.Entry],
	f manifest.FileRef,
	target int,
	rec *LevelRecord,
) (*ordmap.Tree[K, sstable.Entry], error) {
	records, err := sstable.ReadAll(p.dir, f.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		k, err := p.codec.Parse(r.Key)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", f.ID, err)
		}
		if !r.Tombstone {
			buf = buf.Insert(k, r.Entry)
			continue
		}
		older, err := p.hasOlderValues(k, r.Key, target)
		if err != nil {
			return nil, err
		}
		if older {
			buf = buf.Insert(k, r.Entry)
		} else {
			buf = buf.Remove(k)
			rec.Dropped++
		}
	}
	return buf, nil
}

// hasOlderValues reports whether some table below level may still hold a
// value for key: its range covers key and its bloom filter admits it.
func (p *pass[K]) hasOlderValues(key K, formatted string, level int) (bool, error) {
	for l := level + 1; l < len(p.m.Levels); l++ {
		files := p.m.Levels[l].Files
		for j := len(files) - 1; j >= 0; j-- {
			f := files[j]
			if _, ok := p.gone[f.ID]; ok {
				continue
			}
			lo, hi, err := p.codec.ParseRange(f.Range)
			if err != nil {
				return false, fmt.Errorf("range of table %d: %w", f.ID, err)
			}
			if !covers(p.codec.Compare, lo, hi, key) {
				continue
			}
			filter, err := p.blooms.Get(f.ID)
			if err != nil {
				return false, err
			}
			if filter.MayContain(formatted) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *pass[K]) write(buf *ordmap.Tree[K, sstable.Entry], level int, rec *LevelRecord) error {
	ref, err := sstable.Generate(level, p.m, p.dir, buf, p.codec,
		sstable.WithFalsePositiveRate(p.opts.FalsePositiveRate))
	switch {
	case errors.Is(err, sstable.ErrEmptyTable):
		p.log.Debug("merge produced no entries", "level", level, "inputs", rec.Inputs)
		return nil
	case err != nil:
		return err
	}
	p.written = append(p.written, ref.ID)
	rec.Output = ref.ID
	rec.Written = true
	p.log.Info("table written", "level", level, "id", ref.ID, "entries", buf.Len(), "inputs", rec.Inputs)
	return nil
}
