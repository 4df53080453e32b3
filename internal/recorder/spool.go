package recorder

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"relay-balancer/internal/logging"
)

// RunSummary is the artifact spooled when the balancer stops.
type RunSummary struct {
	Version int `json:"version"`

	Hostname   string    `json:"hostname"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Iterations int `json:"iterations"`
	Passes     int `json:"passes"`
	Migrations int `json:"migrations"`
	Failures   int `json:"failures"`

	// LastPass holds the most recent pass of each group keyed by node id.
	LastPass map[string]PassRecord `json:"last_pass"`
}

// SpoolRecorder accumulates a RunSummary and writes it to Dir on Close.
type SpoolRecorder struct {
	Dir     string
	summary RunSummary
}

func NewSpoolRecorder(dir string) *SpoolRecorder {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &SpoolRecorder{
		Dir: dir,
		summary: RunSummary{
			Version:   1,
			Hostname:  host,
			StartedAt: time.Now(),
			LastPass:  make(map[string]PassRecord),
		},
	}
}

func (s *SpoolRecorder) RecordIteration(_ context.Context, iteration, _ int) error {
	if iteration > s.summary.Iterations {
		s.summary.Iterations = iteration
	}
	return nil
}

func (s *SpoolRecorder) RecordPass(_ context.Context, rec PassRecord) error {
	s.summary.Passes++
	if rec.Migrated {
		s.summary.Migrations++
	}
	if rec.Error != "" {
		s.summary.Failures++
	}
	s.summary.LastPass[strconv.Itoa(rec.Node)] = rec
	return nil
}

func (s *SpoolRecorder) Close() error {
	s.summary.FinishedAt = time.Now()
	path, err := WriteSpoolArtifact(s.Dir, &s.summary)
	if err != nil {
		return fmt.Errorf("spool run summary: %w", err)
	}
	logging.GetLogger().WithField("path", path).Info("Run summary spooled")
	return nil
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, summary *RunSummary) (string, error) {
	if summary == nil {
		return "", fmt.Errorf("run summary is nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf(
		"balancer_%s_%s.json.gz",
		summary.Hostname,
		summary.StartedAt.UTC().Format("20060102T150405Z"),
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}
