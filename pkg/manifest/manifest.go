// Package manifest stores the level layout of a store: which table files
// live on which level, their key ranges, and the id allocator.
package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
)

const (
	FileName       = "manifest.json"
	currentVersion = 1
)

// FileRef is one table registered on a level. Range holds the smallest and
// largest key of the table in their formatted form.
type FileRef struct {
	ID    uint64    `json:"id"`
	Range [2]string `json:"range"`
}

// Level lists tables oldest first. Cursor is the round-robin position used
// to pick the next table to push down.
type Level struct {
	Files  []FileRef `json:"files"`
	Cursor int       `json:"cursor"`
}

// Manifest is the whole layout. Inc is the next table id to hand out.
type Manifest struct {
	Version int     `json:"version"`
	Inc     uint64  `json:"inc"`
	Levels  []Level `json:"lvl"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{Version: currentVersion, Levels: []Level{}}
}

// Load reads the manifest in dir. A missing or unreadable manifest yields an
// empty one.
func Load(dir string, log *slog.Logger) *Manifest {
	if log == nil {
		log = slog.Default()
	}
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read manifest, starting empty", "path", path, "error", err)
		}
		return New()
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		log.Warn("failed to parse manifest, starting empty", "path", path, "error", err)
		return New()
	}
	if m.Levels == nil {
		m.Levels = []Level{}
	}
	return m
}

// WriteUpdate replaces the manifest in dir atomically: the new content is
// written and synced to a temporary file which is then renamed over the old
// one.
func WriteUpdate(dir string, m *Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create manifest temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Level returns level i, creating empty levels up to it.
func (m *Manifest) Level(i int) *Level {
	for len(m.Levels) <= i {
		m.Levels = append(m.Levels, Level{Files: []FileRef{}})
	}
	return &m.Levels[i]
}

// NextID allocates a table id.
func (m *Manifest) NextID() uint64 {
	id := m.Inc
	m.Inc++
	return id
}

// Add registers a table as the newest on level i.
func (m *Manifest) Add(i int, f FileRef) {
	lvl := m.Level(i)
	lvl.Files = append(lvl.Files, f)
}

// Remove drops table id from level i and reports whether it was there.
func (m *Manifest) Remove(i int, id uint64) bool {
	if i < 0 || i >= len(m.Levels) {
		return false
	}
	lvl := &m.Levels[i]
	idx := slices.IndexFunc(lvl.Files, func(f FileRef) bool { return f.ID == id })
	if idx < 0 {
		return false
	}
	lvl.Files = slices.Delete(lvl.Files, idx, idx+1)
	return true
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{Version: m.Version, Inc: m.Inc, Levels: make([]Level, len(m.Levels))}
	for i, lvl := range m.Levels {
		c.Levels[i] = Level{Files: slices.Clone(lvl.Files), Cursor: lvl.Cursor}
		if c.Levels[i].Files == nil {
			c.Levels[i].Files = []FileRef{}
		}
	}
	return c
}

// FileCount returns the number of tables across all levels.
func (m *Manifest) FileCount() int {
	n := 0
	for _, lvl := range m.Levels {
		n += len(lvl.Files)
	}
	return n
}
