package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-facesync/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "runs.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.BeginRun(ctx, Run{ID: "r"}); err != nil {
		t.Fatalf("ephemeral begin should be a no-op: %v", err)
	}
	runs, err := es.ListRuns(ctx, 10)
	if err != nil || runs != nil {
		t.Fatalf("expected no runs, got %v %v", runs, err)
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := es.BeginRun(ctx, Run{ID: "run-1", Text: "ho ho ho"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	run, err := es.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != StatusRunning || run.Text != "ho ho ho" || !run.FinishedAt.IsZero() {
		t.Fatalf("unexpected running record %+v", run)
	}

	err = es.FinishRun(ctx, Run{
		ID:           "run-1",
		Fixture:      "reindeer.xmodel",
		Status:       StatusSucceeded,
		FrameCount:   93,
		ChannelCount: 1344,
		DurationMS:   4650,
		OutputPath:   "/tmp/out.fseq",
	})
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err = es.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != StatusSucceeded || run.FrameCount != 93 || run.ChannelCount != 1344 || run.Fixture != "reindeer.xmodel" {
		t.Fatalf("unexpected finished record %+v", run)
	}
	if run.FinishedAt.IsZero() {
		t.Fatal("expected finish time")
	}

	if err := es.FinishRun(ctx, Run{ID: "missing", Status: StatusFailed}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := es.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestAppendAndQueryEvents(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := es.BeginRun(ctx, Run{ID: "run-1"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	for _, typ := range []string{"timing.built", "frames.rendered"} {
		if err := es.AppendEvent(ctx, Event{RunID: "run-1", Type: typ, Payload: []byte("hello")}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListRunEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "timing.built" || string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestPruneByDaysAndRuns(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxRuns: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRun(ctx, Run{ID: "old-run"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "old-run", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"run-a", "run-b"} {
		if err := es.BeginRun(ctx, Run{ID: id}); err != nil {
			t.Fatalf("begin run: %v", err)
		}
		es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 1, 0, time.UTC) }
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRunEvents(ctx, "old-run", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old run events pruned")
	}
	runs, err := es.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-b" {
		t.Fatalf("expected only newest run to survive, got %+v", runs)
	}
}
