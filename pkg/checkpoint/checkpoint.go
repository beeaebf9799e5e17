package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the lifecycle state of one pipeline stage within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Record is one checkpoint line. Records are append-only; the latest
// record per (run, stage) is authoritative on replay.
type Record struct {
	RunID       string    `json:"runId"`
	Stage       string    `json:"stage"`
	Status      Status    `json:"status"`
	TS          time.Time `json:"ts"`
	ArtifactRef string    `json:"artifactRef,omitempty"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
}

// Store persists checkpoint records as one JSONL file per run under
// <dir>/<runID>.ndjson. Appends never rewrite prior lines, so a crash
// mid-write costs at most the line being written.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID+".ndjson")
}

// Append writes one record to the run's checkpoint file, creating the
// file and directory on first use.
func (s *Store) Append(rec Record) error {
	if rec.RunID == "" || rec.Stage == "" {
		return errors.New("checkpoint record needs runId and stage")
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	f, err := os.OpenFile(s.path(rec.RunID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode checkpoint record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append checkpoint record: %w", err)
	}
	return f.Sync()
}

// Replay reads the run's checkpoint file and returns the last record
// per stage. A missing file yields an empty map; a trailing corrupt
// line (torn write) is ignored, a corrupt line in the middle is an
// error.
func (s *Store) Replay(runID string) (map[string]Record, error) {
	f, err := os.Open(s.path(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer f.Close()

	latest := map[string]Record{}
	var pendingErr error

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if pendingErr != nil {
			// A bad line followed by more lines means real corruption,
			// not a torn tail.
			return nil, pendingErr
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			pendingErr = fmt.Errorf("corrupt checkpoint line for run %s: %w", runID, err)
			continue
		}
		latest[rec.Stage] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	return latest, nil
}
