package compaction

import (
	"context"
	"log/slog"

	"snapdb/pkg/listener"
)

// Worker runs compaction passes on its own goroutine, one request at a time,
// and publishes a Report for each.
type Worker struct {
	*listener.Listener[Request]

	in   chan Request
	out  chan Report
	opts Options
	log  *slog.Logger
}

func NewWorker(opts Options) *Worker {
	opts = opts.withDefaults()
	w := &Worker{
		in:   make(chan Request),
		out:  make(chan Report, 1),
		opts: opts,
		log:  opts.Logger.With("component", "compaction-worker"),
	}
	w.Listener = listener.New[Request](w.in, w.handle,
		listener.WithStopHandler[Request](func() { close(w.out) }),
	)
	return w
}

// Submit hands req to the worker.
func (w *Worker) Submit(ctx context.Context, req Request) error {
	select {
	case w.in <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reports delivers one Report per submitted Request. It is closed by Stop.
func (w *Worker) Reports() <-chan Report {
	return w.out
}

func (w *Worker) handle(ctx context.Context, req Request) error {
	w.log.Debug("compaction requested", "id", req.ID, "path", req.Path, "keyType", req.KeyType)
	rep := RunPass(req, w.opts)
	if rep.Err != nil {
		w.log.Error("compaction failed", "id", req.ID, "error", rep.Err)
	}

	select {
	case w.out <- rep:
	case <-ctx.Done():
		w.log.Warn("dropping compaction report, worker stopped", "id", req.ID)
	}
	return nil
}
