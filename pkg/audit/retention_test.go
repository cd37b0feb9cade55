package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetentionWorker_DisabledWithoutRetention(t *testing.T) {
	w := NewRetentionWorker(newTestStore(t), 0, discardLogger())

	// Run must return immediately when retention is zero.
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled retention worker did not return")
	}
}

func TestRetentionWorker_StopsOnCancel(t *testing.T) {
	w := NewRetentionWorker(newTestStore(t), 30, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention worker did not stop on context cancel")
	}
}
