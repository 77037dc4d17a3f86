package task

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultGlob matches task manifests under a suite directory.
const DefaultGlob = "**/*.yaml"

// Loader discovers and parses task manifests.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a manifest loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// LoadFile parses and validates a single manifest file. Relative template
// paths are resolved against the manifest's directory.
func (l *Loader) LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.PromptTemplate = resolvePath(dir, m.PromptTemplate)
	m.FixTemplate = resolvePath(dir, m.FixTemplate)

	return &m, nil
}

// LoadDir discovers manifests under root matching pattern (doublestar glob,
// DefaultGlob when empty) and loads them sorted by task id. Files that fail
// to parse are skipped with a warning so one broken manifest does not sink
// the suite.
func (l *Loader) LoadDir(root, pattern string) ([]*Manifest, error) {
	if pattern == "" {
		pattern = DefaultGlob
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob tasks in %s: %w", root, err)
	}

	seen := make(map[string]string)
	var manifests []*Manifest
	for _, rel := range matches {
		path := filepath.Join(root, rel)
		m, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn("Skipping task manifest", "path", path, "error", err)
			continue
		}
		if prev, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s in %s and %s", m.ID, prev, path)
		}
		seen[m.ID] = path
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })

	l.logger.Debug("Loaded task suite", "root", root, "tasks", len(manifests))
	return manifests, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
