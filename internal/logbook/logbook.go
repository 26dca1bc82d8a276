// Package logbook persists run history as a stream of YAML documents under
// .legwork/logs. Records are append-only; a run is written once, after it
// finishes.
package logbook

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/legwork-ci/legwork/internal/engine"
	"github.com/legwork-ci/legwork/internal/trigger"
)

// Record is one archived run.
type Record struct {
	RunID      string             `yaml:"run_id"`
	Kind       string             `yaml:"kind"`
	Branch     string             `yaml:"branch,omitempty"`
	Tag        string             `yaml:"tag,omitempty"`
	Commit     string             `yaml:"commit"`
	Status     engine.Status      `yaml:"status"`
	Legs       []engine.LegResult `yaml:"legs"`
	StartedAt  time.Time          `yaml:"started_at"`
	FinishedAt time.Time          `yaml:"finished_at"`
}

// FromRun flattens a run result into its archive shape.
func FromRun(run engine.RunResult) Record {
	return Record{
		RunID:      run.RunID,
		Kind:       string(run.Event.Kind),
		Branch:     run.Event.Branch,
		Tag:        run.Event.Tag,
		Commit:     run.Event.Commit,
		Status:     run.Status,
		Legs:       run.Legs,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

// Describe renders the record's trigger the same way live runs log it.
func (r Record) Describe() string {
	evt := trigger.Event{Kind: trigger.Kind(r.Kind), Branch: r.Branch, Tag: r.Tag, Commit: r.Commit}
	return evt.Describe()
}

// Logbook appends and reads run records.
type Logbook struct {
	path string
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append archives one finished run.
func (l *Logbook) Append(record Record) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("logbook: encode run %s: %w", record.RunID, err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	defer file.Close()
	if _, err := file.WriteString("---\n"); err != nil {
		return fmt.Errorf("logbook: write %s: %w", l.path, err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("logbook: write %s: %w", l.path, err)
	}
	return nil
}

// Records returns every archived run in append order.
func (l *Logbook) Records() ([]Record, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("logbook: open %s: %w", l.path, err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	var records []Record
	for {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("logbook: parse %s: %w", l.path, err)
		}
		if record.RunID == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Tail returns up to n of the most recent runs, newest last.
func (l *Logbook) Tail(n int) ([]Record, error) {
	records, err := l.Records()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
