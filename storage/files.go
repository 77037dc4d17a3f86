// Package storage persists benchmark runs: JSON result files on disk and an
// optional NATS KV archive of run summaries.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/albench/benchmark"
)

// filePrefix is the result file name prefix.
const filePrefix = "benchmark-"

// legacyPrefix matches result files written by earlier harness versions.
const legacyPrefix = "agent-benchmark-"

// FileStore writes and reads benchmark result files under a base directory.
// Each run is a directory named after the run label holding one timestamped
// JSON file per save.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the base directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// runFile is the on-disk envelope for a saved run.
type runFile struct {
	Results []*benchmark.TaskExecutionResult `json:"results"`
}

// SaveRun writes all execution results for a labeled run and returns the file
// path.
func (s *FileStore) SaveRun(label string, results []*benchmark.TaskExecutionResult) (string, error) {
	dir := filepath.Join(s.dir, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	name := filePrefix + time.Now().Format("2006-01-02T15-04-05") + ".json"
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(runFile{Results: results}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write run file: %w", err)
	}
	return path, nil
}

// LoadRun reads one result file. Both the envelope form {"results": [...]}
// and a bare top-level array are accepted.
func (s *FileStore) LoadRun(path string) ([]*benchmark.TaskExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read run file: %w", err)
	}

	var envelope runFile
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Results != nil {
		return envelope.Results, nil
	}

	var bare []*benchmark.TaskExecutionResult
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parse run file %s: %w", path, err)
	}
	return bare, nil
}

// LoadLatest reads the most recent result file for a labeled run.
func (s *FileStore) LoadLatest(label string) ([]*benchmark.TaskExecutionResult, error) {
	files, err := s.ListRunFiles(label)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNotFound
	}
	return s.LoadRun(files[len(files)-1])
}

// ListRunFiles returns the result file paths for a labeled run, sorted by
// name. The timestamped naming makes name order chronological.
func (s *FileStore) ListRunFiles(label string) ([]string, error) {
	dir := filepath.Join(s.dir, label)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read run directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		if strings.HasPrefix(name, filePrefix) || strings.HasPrefix(name, legacyPrefix) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ListRuns returns all run labels present in the base directory.
func (s *FileStore) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results directory: %w", err)
	}

	var labels []string
	for _, e := range entries {
		if e.IsDir() {
			labels = append(labels, e.Name())
		}
	}
	sort.Strings(labels)
	return labels, nil
}
