package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestWatcherReportsConfigWrite(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "log_level: info\n")

	w := NewWatcher(home, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the fsnotify watch a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed before delivering change")
		}
		if ev.Path == "" {
			t.Fatal("event path empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload event after config write")
	}
}
