package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const FileName = "wal.log"

// Op is the kind of a logged write.
type Op uint8

const (
	OpPut Op = iota + 1
	OpDelete
)

// Entry represents a single entry. Key holds the formatted key.
type Entry struct {
	SeqNum uint64
	Op     Op
	Key    []byte
	Value  []byte
}

// WAL implements write-ahead logging for the memtable. Every Append is
// flushed and synced before it returns.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
}

// Open opens or creates the log in dir.
func Open(dir string) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dir, FileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
	}, nil
}

func (w *WAL) Append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Replay calls callback for every complete entry in the log. A torn entry
// at the tail is ignored.
func (w *WAL) Replay(callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	for {
		entry, err := readEntry(reader)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			slog.Warn("ignoring torn WAL tail", "path", w.filePath)
			return nil
		case err != nil:
			return fmt.Errorf("failed to read WAL entry: %w", err)
		}
		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}
}

// Reset empties the log once its entries are safely in a table.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Reset(w.file)
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}

	return nil
}

// Record layout: [u64 seq][u8 op][u32 keyLen][key][u32 valueLen][value].
func (w *WAL) writeEntry(entry Entry) error {
	if w.writer == nil {
		return fmt.Errorf("WAL writer is nil")
	}
	if len(entry.Key) > math.MaxUint32 {
		return fmt.Errorf("key too large: %d", len(entry.Key))
	}
	if len(entry.Value) > math.MaxUint32 {
		return fmt.Errorf("value too large: %d", len(entry.Value))
	}

	var hdr [13]byte
	binary.LittleEndian.PutUint64(hdr[0:8], entry.SeqNum)
	hdr[8] = byte(entry.Op)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(entry.Key)))
	if _, err := w.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(entry.Key); err != nil {
		return err
	}

	var vl [4]byte
	binary.LittleEndian.PutUint32(vl[:], uint32(len(entry.Value)))
	if _, err := w.writer.Write(vl[:]); err != nil {
		return err
	}
	_, err := w.writer.Write(entry.Value)
	return err
}

func readEntry(reader *bufio.Reader) (Entry, error) {
	var entry Entry

	var hdr [13]byte
	if _, err := io.ReadFull(reader, hdr[:]); err != nil {
		return entry, err
	}
	entry.SeqNum = binary.LittleEndian.Uint64(hdr[0:8])
	entry.Op = Op(hdr[8])
	keyLen := binary.LittleEndian.Uint32(hdr[9:13])

	entry.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(reader, entry.Key); err != nil {
		return entry, unexpected(err)
	}

	var vl [4]byte
	if _, err := io.ReadFull(reader, vl[:]); err != nil {
		return entry, unexpected(err)
	}
	entry.Value = make([]byte, binary.LittleEndian.Uint32(vl[:]))
	if _, err := io.ReadFull(reader, entry.Value); err != nil {
		return entry, unexpected(err)
	}

	return entry, nil
}

// unexpected turns a clean EOF inside a record into a torn-record error.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
