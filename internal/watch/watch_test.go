package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, w *Watcher) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- w.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	// Give fsnotify time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return cancel, done
}

func fastWatcher(t *testing.T, dir string, handler Handler) *Watcher {
	t.Helper()

	w, err := New(dir, handler, nil)
	require.NoError(t, err)
	w.SettleInterval = 20 * time.Millisecond
	return w
}

func TestWatcherHandsOverNewMediaFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seen := make(chan string, 8)
	w := fastWatcher(t, dir, func(_ context.Context, path string) error {
		seen <- path
		return nil
	})
	startWatcher(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.m4a"), []byte("x"), 0o644))
	recording := filepath.Join(dir, "standup.m4a")
	require.NoError(t, os.WriteFile(recording, []byte("audio bytes"), 0o644))

	select {
	case path := <-seen:
		require.Equal(t, recording, path)
	case <-time.After(5 * time.Second):
		t.Fatal("recording was not handed over")
	}

	select {
	case path := <-seen:
		t.Fatalf("unexpected second hand-over: %s", path)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherProcessesOneFileAtATime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var mu sync.Mutex
	active, peak, count := 0, 0, 0
	finished := make(chan struct{}, 4)

	w := fastWatcher(t, dir, func(_ context.Context, _ string) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		active--
		count++
		mu.Unlock()
		finished <- struct{}{}
		return errors.New("handler failures do not stop the watcher")
	})
	startWatcher(t, w)

	for _, name := range []string{"a.wav", "b.mp3", "c.flac"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 3 files processed", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, peak)
	require.Equal(t, 3, count)
}

func TestWatcherQueuesExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	existing := filepath.Join(dir, "yesterday.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yesterday.txt"), []byte("done"), 0o644))

	seen := make(chan string, 4)
	w := fastWatcher(t, dir, func(_ context.Context, path string) error {
		seen <- path
		return nil
	})
	w.Existing = true
	startWatcher(t, w)

	select {
	case path := <-seen:
		require.Equal(t, existing, path)
	case <-time.After(5 * time.Second):
		t.Fatal("existing recording was not handed over")
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	w := fastWatcher(t, t.TempDir(), func(context.Context, string) error { return nil })
	cancel, done := startWatcher(t, w)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewRejectsBadDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"), func(context.Context, string) error { return nil }, nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.m4a")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file, func(context.Context, string) error { return nil }, nil)
	require.ErrorContains(t, err, "not a directory")

	_, err = New(t.TempDir(), nil, nil)
	require.Error(t, err)
}

func TestWants(t *testing.T) {
	t.Parallel()

	w := &Watcher{}
	for path, want := range map[string]bool{
		"/in/talk.M4A":            true,
		"/in/talk.wav":            true,
		"/in/talk.txt":            false,
		"/in/.talk.mp3":           false,
		"/in/talk.mp3.part":       false,
		"/in/talk.crdownload":     false,
		"/in/no-extension":        false,
		"/in/interview.final.mp4": true,
	} {
		require.Equal(t, want, w.wants(path), path)
	}

	w.Extensions = []string{".ogg"}
	require.True(t, w.wants("x.ogg"))
	require.False(t, w.wants("x.wav"))
}

func TestQueueDeduplicatesWaitingPaths(t *testing.T) {
	t.Parallel()

	q := newQueue()
	require.True(t, q.push("a"))
	require.False(t, q.push("a"))
	require.True(t, q.push("b"))

	ctx, cancel := context.WithCancel(context.Background())
	path, ok := q.pop(ctx)
	require.True(t, ok)
	require.Equal(t, "a", path)
	require.True(t, q.push("a"), "a popped path can be queued again")

	path, _ = q.pop(ctx)
	require.Equal(t, "b", path)
	path, _ = q.pop(ctx)
	require.Equal(t, "a", path)

	cancel()
	_, ok = q.pop(ctx)
	require.False(t, ok)
}
