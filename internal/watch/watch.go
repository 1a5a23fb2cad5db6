// Package watch feeds media files dropped into a directory to a handler,
// one file at a time, once each file has finished being written.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	DefaultSettleInterval = 500 * time.Millisecond
	DefaultSettleChecks   = 2
)

// MediaExtensions are the file types picked up by default.
var MediaExtensions = []string{
	".aac", ".flac", ".m4a", ".mp3", ".ogg", ".opus", ".wav", ".wma",
	".m4v", ".mkv", ".mov", ".mp4", ".webm",
}

type Handler func(ctx context.Context, path string) error

type Watcher struct {
	Dir     string
	Handler Handler
	Logger  *zap.Logger
	// Extensions overrides MediaExtensions; entries include the dot.
	Extensions []string
	// Existing queues matching files already in Dir when Run starts.
	Existing bool
	// A file is handed over after its size was the same for SettleChecks
	// consecutive polls SettleInterval apart.
	SettleInterval time.Duration
	SettleChecks   int

	processed map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func (s fileStamp) equal(o fileStamp) bool {
	return s.size == o.size && s.modTime.Equal(o.modTime)
}

func New(dir string, handler Handler, logger *zap.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", dir)
	}
	if handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		Dir:            dir,
		Handler:        handler,
		Logger:         logger,
		SettleInterval: DefaultSettleInterval,
		SettleChecks:   DefaultSettleChecks,
	}, nil
}

// Run watches Dir until ctx is done or the underlying watcher fails. It waits
// for the file being handled to finish before returning ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("add watch path: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	w.processed = make(map[string]fileStamp)
	q := newQueue()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx, q)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	w.Logger.Info("watching for recordings", zap.String("dir", w.Dir))

	if w.Existing {
		if err := w.queueExisting(q); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("watcher stopping; waiting for the current file")
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.wants(event.Name) {
				w.Logger.Debug("ignoring file", zap.String("path", event.Name))
				continue
			}
			if q.push(event.Name) {
				w.Logger.Debug("queued recording", zap.String("path", event.Name))
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.Logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) queueExisting(q *queue) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", w.Dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(w.Dir, entry.Name())
		if entry.Type().IsRegular() && w.wants(path) {
			q.push(path)
		}
	}
	return nil
}

// work is the only goroutine that calls Handler, so files never overlap.
func (w *Watcher) work(ctx context.Context, q *queue) {
	for {
		path, ok := q.pop(ctx)
		if !ok {
			return
		}

		stamp, err := w.waitStable(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				w.Logger.Debug("file went away before it settled", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		if prev, seen := w.processed[path]; seen && prev.equal(stamp) {
			continue
		}

		w.Logger.Info("processing recording", zap.String("path", path))
		if err := w.Handler(ctx, path); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Logger.Error("failed to process recording", zap.String("path", path), zap.Error(err))
		}
		w.processed[path] = stamp
	}
}

func (w *Watcher) waitStable(ctx context.Context, path string) (fileStamp, error) {
	interval := w.SettleInterval
	if interval <= 0 {
		interval = DefaultSettleInterval
	}
	checks := w.SettleChecks
	if checks < 1 {
		checks = DefaultSettleChecks
	}

	var last fileStamp
	same := 0
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fileStamp{}, err
		}
		if info.IsDir() {
			return fileStamp{}, fmt.Errorf("%s is a directory", path)
		}

		current := fileStamp{size: info.Size(), modTime: info.ModTime()}
		if current.size > 0 && current.equal(last) {
			same++
			if same >= checks {
				return current, nil
			}
		} else {
			same = 0
		}
		last = current

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fileStamp{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *Watcher) wants(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	exts := w.Extensions
	if len(exts) == 0 {
		exts = MediaExtensions
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, candidate := range exts {
		if ext == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

// queue is an unbounded FIFO of paths that ignores paths already waiting.
type queue struct {
	mu     sync.Mutex
	items  []string
	queued map[string]bool
	ready  chan struct{}
}

func newQueue() *queue {
	return &queue{queued: make(map[string]bool), ready: make(chan struct{}, 1)}
}

func (q *queue) push(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queued[path] {
		return false
	}
	q.queued[path] = true
	q.items = append(q.items, path)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			path := q.items[0]
			q.items = q.items[1:]
			delete(q.queued, path)
			q.mu.Unlock()
			return path, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-q.ready:
		}
	}
}
