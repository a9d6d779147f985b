package dberrors

import "errors"

var (
	ErrNotFound          = errors.New("snapdb: not found")
	ErrClosed            = errors.New("snapdb: closed")
	ErrInvalidArgument   = errors.New("snapdb: invalid argument")
	ErrCompactionRunning = errors.New("snapdb: compaction running")
	ErrCorrupted         = errors.New("snapdb: corrupted file")
	ErrTooLargeEntry     = errors.New("snapdb: entry is too large")
)
