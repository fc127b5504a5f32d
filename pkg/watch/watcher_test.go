package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherDeliversNewFilesOnce(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher("*.json", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.WatchDir(dir); err != nil {
		t.Fatalf("WatchDir failed: %v", err)
	}

	var mu sync.Mutex
	var delivered []string
	got := make(chan string, 4)
	w.OnFile = func(_ context.Context, path string) error {
		mu.Lock()
		delivered = append(delivered, path)
		mu.Unlock()
		got <- path
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	target := filepath.Join(dir, "events.json")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if filepath.Base(p) != "events.json" {
			t.Errorf("delivered %s, want events.json", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("file was not delivered")
	}

	// A later write to a delivered file is ignored.
	if err := os.WriteFile(target, []byte(`{"a":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Errorf("delivered %v, want exactly one file", delivered)
	}
}

func TestWatcherRejectsBadPattern(t *testing.T) {
	if _, err := NewWatcher("[", time.Millisecond); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestWatchDirRequiresDirectory(t *testing.T) {
	w, err := NewWatcher("", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.WatchDir(file); err == nil {
		t.Error("expected error watching a file")
	}
}
