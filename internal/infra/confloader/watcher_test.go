package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string, debounce time.Duration) <-chan string {
	t.Helper()
	w, err := NewWatcher(WithDebounce(debounce))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	changed := make(chan string, 16)
	w.OnChange(func(p string) {
		select {
		case changed <- p:
		default:
		}
	})
	w.StartAsync()
	time.Sleep(50 * time.Millisecond)
	return changed
}

func TestWatcher_ReportsWatchedFile(t *testing.T) {
	path := writeFile(t, "node:\n  id: a\n")
	changed := startWatcher(t, path, 0)

	if err := os.WriteFile(path, []byte("node:\n  id: b\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	want, _ := filepath.Abs(path)
	select {
	case got := <-changed:
		if got != want {
			t.Errorf("changed path = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	path := writeFile(t, "a: 1\n")
	changed := startWatcher(t, path, 0)

	sibling := filepath.Join(filepath.Dir(path), "other.yaml")
	if err := os.WriteFile(sibling, []byte("b: 2\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	select {
	case got := <-changed:
		t.Fatalf("unexpected change for %q", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_Debounce(t *testing.T) {
	path := writeFile(t, "a: 0\n")
	changed := startWatcher(t, path, 150*time.Millisecond)

	for i := range 5 {
		if err := os.WriteFile(path, []byte{byte('0' + i)}, 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case <-changed:
		t.Fatal("burst should collapse into one callback")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()
	if err := w.Watch(filepath.Join(t.TempDir(), "nope", "cfg.yaml")); err == nil {
		t.Error("Watch() on missing directory should fail")
	}
}
