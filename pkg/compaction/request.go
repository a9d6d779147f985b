package compaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snapdb/pkg/keys"
)

const (
	RequestType = "snap-compact"
	ReportType  = "compact-done"
)

var ErrUnknownRequest = errors.New("compaction: unknown request type")

// Request asks for one pass over the store at Path. Cache enables the bloom
// filter cache for the pass.
type Request struct {
	ID      uuid.UUID `json:"id"`
	Type    string    `json:"type"`
	Path    string    `json:"path"`
	KeyType keys.Type `json:"keyType"`
	Cache   bool      `json:"cache"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(path string, keyType keys.Type, cache bool) Request {
	return Request{
		ID:      uuid.New(),
		Type:    RequestType,
		Path:    path,
		KeyType: keyType,
		Cache:   cache,
	}
}

// Report answers a Request. Files lists the tables the pass made obsolete;
// their files may be deleted once the caller has switched to the new
// manifest.
type Report struct {
	ID       uuid.UUID     `json:"id"`
	Type     string        `json:"type"`
	Files    []uint64      `json:"files"`
	Levels   []LevelRecord `json:"levels,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// RunPass runs one pass for req with an engine typed by req.KeyType.
func RunPass(req Request, opts Options) Report {
	start := time.Now()
	rep := Report{ID: req.ID, Type: ReportType, Files: []uint64{}}

	res, err := run(req, opts)
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Err = fmt.Errorf("compaction pass %s: %w", req.ID, err)
		return rep
	}
	if len(res.Deleted) > 0 {
		rep.Files = res.Deleted
	}
	rep.Levels = res.Levels
	return rep
}

func run(req Request, opts Options) (Result, error) {
	if req.Type != RequestType {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type)
	}
	kt, err := keys.ParseType(string(req.KeyType))
	if err != nil {
		return Result{}, err
	}
	switch kt {
	case keys.Number:
		return NewEngine(req.Path, keys.NumberCodec, req.Cache, opts).Run()
	default:
		return NewEngine(req.Path, keys.StringCodec, req.Cache, opts).Run()
	}
}
