package reaper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeCleaner struct {
	mu     sync.Mutex
	calls  int
	counts []int
	err    error
	swept  chan struct{}
}

func (f *fakeCleaner) CleanupExpired(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	if f.calls < len(f.counts) {
		n = f.counts[f.calls]
	}
	f.calls++
	select {
	case f.swept <- struct{}{}:
	default:
	}
	return n, f.err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWorkerSweepsUntilCancelled(t *testing.T) {
	var logs syncBuffer
	cleaner := &fakeCleaner{counts: []int{3}, swept: make(chan struct{}, 1)}
	w := NewWorker(cleaner, slog.New(slog.NewTextHandler(&logs, nil)), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-cleaner.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never swept")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if !strings.Contains(logs.String(), "count=3") {
		t.Fatalf("expected sweep to be logged, got %q", logs.String())
	}
}

func TestWorkerDisabled(t *testing.T) {
	cleaner := &fakeCleaner{}
	w := NewWorker(cleaner, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 0)
	w.Run(context.Background())
	if cleaner.calls != 0 {
		t.Fatalf("expected no sweeps, got %d", cleaner.calls)
	}
}

func TestSweepLogsErrors(t *testing.T) {
	var logs syncBuffer
	cleaner := &fakeCleaner{err: errors.New("db down")}
	w := NewWorker(cleaner, slog.New(slog.NewTextHandler(&logs, nil)), time.Minute)
	w.sweep(context.Background())
	if !strings.Contains(logs.String(), "db down") {
		t.Fatalf("expected error to be logged, got %q", logs.String())
	}
}
