package logbook

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/legwork-ci/legwork/internal/engine"
	"github.com/legwork-ci/legwork/internal/trigger"
)

func sampleRun(id string, status engine.Status) engine.RunResult {
	evt, _ := trigger.NewPush("develop", "deadbeefcafe0123")
	return engine.RunResult{
		RunID:      id,
		Event:      evt,
		Status:     status,
		Legs:       []engine.LegResult{{Leg: "python-3.6", Status: status}},
		StartedAt:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestAppendAndRecordsRoundTrip(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", "runs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := book.Append(FromRun(sampleRun("run-1", engine.StatusPassed))); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if err := book.Append(FromRun(sampleRun("run-2", engine.StatusFailed))); err != nil {
		t.Fatal(err)
	}
	records, err := book.Records()
	if err != nil {
		t.Fatalf("Records returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RunID != "run-1" || records[1].RunID != "run-2" {
		t.Fatalf("records out of order: %+v", records)
	}
	if records[1].Status != engine.StatusFailed {
		t.Fatalf("status not preserved: %+v", records[1])
	}
	if records[0].Branch != "develop" || records[0].Kind != "push" {
		t.Fatalf("event not flattened: %+v", records[0])
	}
}

func TestRecordsOnMissingFileIsEmpty(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "runs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	records, err := book.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	book, _ := New(filepath.Join(t.TempDir(), "runs.yaml"))
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := book.Append(FromRun(sampleRun(id, engine.StatusPassed))); err != nil {
			t.Fatal(err)
		}
	}
	tail, err := book.Tail(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].RunID != "run-2" || tail[1].RunID != "run-3" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}
