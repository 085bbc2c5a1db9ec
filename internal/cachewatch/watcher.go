// Package cachewatch watches the client cache directory and turns changes to
// "__info" files into paths of their "__data" siblings.
package cachewatch

import (
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pawrelay/internal/metrics"
	logx "pawrelay/pkg/logx"
)

const (
	InfoSuffix = "__info"
	DataSuffix = "__data"

	DefaultPollInterval = time.Second
)

// defaultRootRel is the cache location relative to the user's home directory.
var defaultRootRel = filepath.Join("AppData", "LocalLow", "VRChat", "VRChat", "Cache-WindowsPlayer")

type Config struct {
	Root         string
	PollInterval time.Duration
}

// ResolveRoot returns override when set, otherwise the client's default cache
// directory under the home directory. If the home directory is unknown the
// relative default is returned.
func ResolveRoot(override string, log logx.Logger) string {
	if s := strings.TrimSpace(override); s != "" {
		return filepath.Clean(s)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		if !log.IsZero() {
			log.Warn("home directory unavailable; using relative cache root", logx.String("root", defaultRootRel), logx.Err(err))
		}
		return defaultRootRel
	}
	return filepath.Join(home, defaultRootRel)
}

// DerivePath maps ".../X__info" to ".../X__data". It reports false for any
// path whose base name does not end in "__info".
func DerivePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	path = filepath.Clean(path)
	if !strings.HasSuffix(filepath.Base(path), InfoSuffix) {
		return "", false
	}
	return strings.TrimSuffix(path, InfoSuffix) + DataSuffix, true
}

type stamp struct {
	mod  time.Time
	size int64
}

// Watcher combines a recursive fsnotify subscription with a polling walk of the
// root. Both feed the same Queue.
type Watcher struct {
	root  string
	poll  time.Duration
	queue *Queue
	log   logx.Logger

	retry chan struct{} // poll tick asks the native loop to reinstall

	mu       sync.Mutex
	watching bool
	stamps   map[string]stamp
	baseline bool
}

func New(cfg Config, queue *Queue, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	root := cfg.Root
	if root == "" {
		root = ResolveRoot("", log)
	}
	return &Watcher{
		root:   root,
		poll:   poll,
		queue:  queue,
		log:    log,
		retry:  make(chan struct{}, 1),
		stamps: map[string]stamp{},
	}
}

func (w *Watcher) Root() string { return w.root }

// Watching reports whether the native subscription is currently installed.
func (w *Watcher) Watching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Watcher) setWatching(v bool) {
	w.mu.Lock()
	w.watching = v
	w.mu.Unlock()
}

// Close releases the path queue. The ingestion worker drains what is left and exits.
func (w *Watcher) Close() { w.queue.Close() }

// Run blocks until ctx is done. A missing root or a broken fsnotify watcher is
// logged and retried; it is never returned as an error.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := os.Stat(w.root); err != nil {
		w.log.Warn("cache root not available yet; waiting for it", logx.String("root", w.root), logx.Err(err))
	} else {
		w.log.Info("watching cache root", logx.String("root", w.root), logx.Duration("poll", w.poll))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.pollLoop(ctx)
	}()
	w.nativeLoop(ctx)
	wg.Wait()
	return nil
}

func (w *Watcher) emit(infoPath, source string) {
	data, ok := DerivePath(infoPath)
	if !ok {
		return
	}
	metrics.RecordPath()
	if err := w.queue.Push(data); err != nil {
		w.log.Warn("path dropped", logx.String("path", data), logx.String("source", source), logx.Err(err))
		return
	}
	w.log.Trace("path queued", logx.String("path", data), logx.String("source", source))
}

// noteNative records the stamp of an info file reported by fsnotify so the next
// poll walk does not report it again.
func (w *Watcher) noteNative(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.stamps[path] = stamp{mod: fi.ModTime(), size: fi.Size()}
	w.mu.Unlock()
}

func (w *Watcher) nativeLoop(ctx context.Context) {
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// wait sleeps for a jittered backoff, or until the poll loop reports the root
	// may be ready. It returns false when ctx is done.
	wait := func(reason string, err error) bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		w.log.Debug(reason, logx.String("root", w.root), logx.Duration("backoff", d), logx.Err(err))
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		case <-w.retry:
		}
		return true
	}

	for {
		if ctx.Err() != nil {
			return
		}

		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Warn("cache watch init failed", logx.Err(err))
			if !wait("cache watch init retry", err) {
				return
			}
			continue
		}
		if err := w.addTree(fw, w.root); err != nil {
			_ = fw.Close()
			if !wait("cache watch install retry", err) {
				return
			}
			continue
		}

		backoff = restartBackoffBase
		w.setWatching(true)
		w.log.Info("cache watch installed", logx.String("root", w.root))

		broken := w.consume(ctx, fw)
		_ = fw.Close()
		w.setWatching(false)
		if !broken || ctx.Err() != nil {
			return
		}
		w.log.Warn("cache watcher stopped; restarting", logx.String("root", w.root))
		if !wait("cache watch restart", nil) {
			return
		}
	}
}

// consume handles events until ctx is done (false) or the watcher breaks (true).
func (w *Watcher) consume(ctx context.Context, fw *fsnotify.Watcher) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-fw.Events:
			if !ok {
				return true
			}
			w.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return true
			}
			if err == nil {
				continue
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; let the next poll walk pick them up
				w.log.Warn("cache watch overflow", logx.Err(err))
				continue
			}
			w.log.Warn("cache watch error", logx.Err(err))
			if errors.Is(err, fsnotify.ErrClosed) {
				return true
			}
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.log.Debug("watch new directory failed", logx.String("dir", ev.Name), logx.Err(err))
			}
			// files written before the watch was added would otherwise be missed
			w.scanDir(ev.Name)
			return
		}
	}
	if strings.HasSuffix(filepath.Base(ev.Name), InfoSuffix) {
		w.noteNative(ev.Name)
		w.emit(ev.Name, "notify")
	}
}

// addTree subscribes to dir and every directory below it. Only a failure on dir
// itself is returned.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	if err := fw.Add(dir); err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir || !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			w.log.Debug("watch subdirectory failed", logx.String("dir", p), logx.Err(err))
		}
		return nil
	})
}

func (w *Watcher) scanDir(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), InfoSuffix) {
			return nil
		}
		w.noteNative(p)
		w.emit(p, "scan")
		return nil
	})
}

func (w *Watcher) pollLoop(ctx context.Context) {
	t := time.NewTicker(w.poll)
	defer t.Stop()
	w.pollOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.pollOnce()
			if !w.Watching() {
				select {
				case w.retry <- struct{}{}:
				default:
				}
			}
		}
	}
}

// pollOnce walks the root and emits info files that are new or changed since the
// previous walk. The first walk only records a baseline, unless the root was
// missing: an absent root is an empty baseline, so everything found once it
// appears is reported.
func (w *Watcher) pollOnce() {
	if _, err := os.Stat(w.root); err != nil {
		w.mu.Lock()
		if len(w.stamps) > 0 || !w.baseline {
			w.stamps = map[string]stamp{}
			w.baseline = true
		}
		w.mu.Unlock()
		return
	}
	seen := make(map[string]stamp)
	_ = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), InfoSuffix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		seen[p] = stamp{mod: fi.ModTime(), size: fi.Size()}
		return nil
	})

	w.mu.Lock()
	var changed []string
	if w.baseline {
		for p, s := range seen {
			if prev, ok := w.stamps[p]; !ok || !prev.mod.Equal(s.mod) || prev.size != s.size {
				changed = append(changed, p)
			}
		}
	}
	w.stamps = seen
	first := !w.baseline
	w.baseline = true
	w.mu.Unlock()

	if first {
		w.log.Debug("cache poll baseline", logx.String("root", w.root), logx.Int("files", len(seen)))
	}
	for _, p := range changed {
		w.emit(p, "poll")
	}
}
