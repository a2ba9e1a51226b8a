// Package artifacts persists per-run test outputs under the workspace: an
// append-only event log, the latest report snapshot, and timestamped
// artifact files, one subdirectory per run. It also writes agent-state debug
// bundles under a sibling debug directory.
package artifacts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Well-known file names inside a run directory.
const (
	EventLogName = "events.jsonl"
	ReportName   = "report.json"
)

// baselinesDirName is reserved inside the tests directory for the visual
// baseline store; it can never be a run id.
const baselinesDirName = "baselines"

var (
	runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	extPattern   = regexp.MustCompile(`^[a-z0-9]+$`)
	labelClean   = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Info describes one artifact file inside a run directory.
type Info struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Store is the filesystem layout manager for test runs. All methods are safe
// for concurrent callers; the event log relies on O_APPEND for line
// atomicity.
type Store struct {
	testsDir string
	debugDir string

	now func() time.Time
}

// NewStore creates a store writing runs under testsDir and debug bundles
// under debugDir. Directories are created lazily on first write.
func NewStore(testsDir, debugDir string) *Store {
	return &Store{testsDir: testsDir, debugDir: debugDir, now: time.Now}
}

// SetClock overrides the timestamp source for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// TestsDir returns the root directory runs are stored under.
func (s *Store) TestsDir() string {
	return s.testsDir
}

// BaselinesDir returns the reserved visual-baseline directory.
func (s *Store) BaselinesDir() string {
	return filepath.Join(s.testsDir, baselinesDirName)
}

// RunDir validates the run id and returns its directory path without
// creating it.
func (s *Store) RunDir(runID string) (string, error) {
	if !runIDPattern.MatchString(runID) || runID == baselinesDirName {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.testsDir, runID), nil
}

// AppendEvent appends one record to the run's event log, creating the run
// directory and log as needed.
func (s *Store) AppendEvent(runID string, record any) error {
	dir, err := s.RunDir(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, EventLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadEvents returns the run's logged events in append order. limit > 0
// keeps only the newest limit records. Corrupt lines are skipped.
func (s *Store) ReadEvents(runID string, limit int) ([]json.RawMessage, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, EventLogName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var out []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !json.Valid([]byte(line)) {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// WriteReport replaces the run's latest report snapshot.
func (s *Store) WriteReport(runID string, report any) error {
	dir, err := s.RunDir(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ReportName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport returns the persisted report, or nil when none was written.
func (s *Store) ReadReport(runID string) (json.RawMessage, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, ReportName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return json.RawMessage(data), nil
}

// WriteArtifact persists one artifact file named {timestamp}-{label}.{ext}
// and returns its info. Labels are sanitized to filename-safe characters; a
// same-millisecond collision gets a numeric suffix.
func (s *Store) WriteArtifact(runID, label, ext string, data []byte) (*Info, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "bin"
	}
	if !extPattern.MatchString(ext) {
		return nil, fmt.Errorf("invalid artifact extension %q", ext)
	}
	label = labelClean.ReplaceAllString(label, "-")
	label = strings.Trim(label, "-")
	if label == "" {
		label = "artifact"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	base := fmt.Sprintf("%d-%s", s.now().UnixMilli(), label)
	name := base + "." + ext
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d.%s", base, n, ext)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	return &Info{Name: name, Path: path, Size: int64(len(data)), ModTime: s.now()}, nil
}

// ListArtifacts returns the run's artifact files sorted by name, which
// orders them chronologically by the timestamp prefix. The event log and
// report are not artifacts and are excluded.
func (s *Store) ListArtifacts(runID string) ([]Info, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == EventLogName || name == ReportName {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:    name,
			Path:    filepath.Join(dir, name),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadArtifact returns one artifact's bytes by file name.
func (s *Store) ReadArtifact(runID, name string) ([]byte, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// WriteDebugBundle writes an agent-state snapshot into the debug directory
// and returns the file path. The name carries a compact timestamp plus the
// optional label: agent-state-20060102-150405[-label].json.
func (s *Store) WriteDebugBundle(label string, payload any) (string, error) {
	if err := os.MkdirAll(s.debugDir, 0o755); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}
	name := "agent-state-" + s.now().UTC().Format("20060102-150405")
	if label = strings.Trim(labelClean.ReplaceAllString(label, "-"), "-"); label != "" {
		name += "-" + label
	}
	name += ".json"

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal debug bundle: %w", err)
	}
	path := filepath.Join(s.debugDir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write debug bundle: %w", err)
	}
	return path, nil
}
