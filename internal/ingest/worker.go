// Package ingest reads cache data files and forwards the avatar ids they contain.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"pawrelay/internal/avatarid"
	"pawrelay/internal/metrics"
	logx "pawrelay/pkg/logx"
)

// Source yields file paths. Next returns an error once no more paths will come.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Enqueuer accepts ids for dispatch.
type Enqueuer interface {
	Enqueue(ids ...avatarid.ID) (int, error)
}

type Worker struct {
	src  Source
	sink Enqueuer
	log  logx.Logger

	// MaxFileSize bounds how many bytes of a file are scanned. 0 reads everything.
	MaxFileSize int64
}

func New(src Source, sink Enqueuer, log logx.Logger) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{src: src, sink: sink, log: log}
}

// Run handles paths one at a time until the source is exhausted or ctx is done.
// Per-file problems are logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		path, err := w.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Debug("path source finished", logx.Err(err))
			return nil
		}

		id, ok, err := w.Process(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			w.log.Debug("data file missing", logx.String("path", path))
			continue
		case err != nil:
			metrics.RecordReadError()
			w.log.Warn("data file unreadable", logx.String("path", path), logx.Err(err))
			continue
		case !ok:
			w.log.Trace("no avatar id in file", logx.String("path", path))
			continue
		}

		metrics.RecordIDFound()
		added, err := w.sink.Enqueue(id)
		if err != nil {
			w.log.Warn("enqueue failed", logx.String("avatar_id", id.String()), logx.Err(err))
			continue
		}
		w.log.Debug("avatar id found", logx.String("avatar_id", id.String()), logx.String("path", path), logx.Bool("queued", added > 0))
	}
}

// Process scans one file and returns the first avatar id in it.
func (w *Worker) Process(path string) (avatarid.ID, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", false, err
	}
	if fi.IsDir() {
		return "", false, fmt.Errorf("%s: is a directory", path)
	}
	b, err := w.read(path)
	if err != nil {
		return "", false, err
	}
	id, ok := avatarid.Match(b)
	return id, ok, nil
}

func (w *Worker) read(path string) ([]byte, error) {
	if w.MaxFileSize <= 0 {
		return os.ReadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, w.MaxFileSize))
}
