// Package baseline persists reference image artifacts and compares incoming
// ones against them by content hash. A baseline is a file named {key}.{ext}
// under the baselines directory; comparison is byte-exact via SHA-256.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// Comparison outcome reasons.
const (
	ReasonMatch          = "match"
	ReasonMismatch       = "hash_mismatch"
	ReasonRecorded       = "baseline_recorded"
	ReasonMissing        = "baseline_missing"
	ReasonMissingAllowed = "baseline_missing_allowed"
)

// extOrder is the lookup order for existing baselines; the first hit wins.
var extOrder = []string{"png", "jpg", "jpeg", "webp", "gif", "bin"}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Request is one comparison: incoming artifact bytes against the baseline
// stored under Key. Ext names the extension used if this request records a
// new baseline; empty defaults to png.
type Request struct {
	Key          string
	Mode         types.BaselineMode
	Ext          string
	Data         []byte
	AllowMissing bool
}

// Info describes one stored baseline file.
type Info struct {
	Key     string    `json:"key"`
	Ext     string    `json:"ext"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Store reads and writes baselines under a single directory. The directory
// is created lazily on first record.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the baselines directory.
func (s *Store) Dir() string {
	return s.dir
}

// Compare runs one baseline comparison per the request mode. I/O and
// validation problems come back as errors; a mismatch is not an error but a
// result with Matched=false.
func (s *Store) Compare(req Request) (*types.BaselineResult, error) {
	if !keyPattern.MatchString(req.Key) {
		return nil, fmt.Errorf("invalid baseline key %q", req.Key)
	}
	if !req.Mode.IsValid() {
		return nil, fmt.Errorf("invalid baseline mode %q", req.Mode)
	}
	ext, err := normalizeExt(req.Ext)
	if err != nil {
		return nil, err
	}

	res := &types.BaselineResult{
		Key:          req.Key,
		Mode:         req.Mode,
		IncomingHash: hashBytes(req.Data),
	}

	existingPath, found, err := s.lookup(req.Key)
	if err != nil {
		return nil, err
	}
	res.BaselineFound = found
	if found {
		res.BaselinePath = existingPath
		baseline, err := os.ReadFile(existingPath)
		if err != nil {
			return nil, fmt.Errorf("read baseline %s: %w", existingPath, err)
		}
		res.BaselineHash = hashBytes(baseline)
	}

	switch req.Mode {
	case types.BaselineRecord:
		if err := s.record(res, req.Key, ext, req.Data, existingPath); err != nil {
			return nil, err
		}

	case types.BaselineAssertOrRecord:
		if !found {
			if err := s.record(res, req.Key, ext, req.Data, ""); err != nil {
				return nil, err
			}
			break
		}
		assert(res, false)

	case types.BaselineAssert:
		assert(res, req.AllowMissing)
	}
	return res, nil
}

// record writes the incoming bytes as the new baseline. A pre-existing
// baseline at a different extension is removed so the fixed lookup order
// cannot resurrect it.
func (s *Store) record(res *types.BaselineResult, key, ext string, data []byte, existingPath string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create baselines dir: %w", err)
	}
	target := filepath.Join(s.dir, key+"."+ext)
	if existingPath != "" && existingPath != target {
		if err := os.Remove(existingPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove superseded baseline %s: %w", existingPath, err)
		}
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write baseline %s: %w", target, err)
	}
	res.BaselinePath = target
	res.BaselineHash = res.IncomingHash
	res.UpdatedBaseline = true
	res.Matched = true
	res.Reason = ReasonRecorded
	return nil
}

// assert fills the result for assert semantics against the lookup outcome
// already captured in res.
func assert(res *types.BaselineResult, allowMissing bool) {
	if !res.BaselineFound {
		if allowMissing {
			res.Matched = true
			res.Reason = ReasonMissingAllowed
			return
		}
		res.Reason = ReasonMissing
		return
	}
	if res.BaselineHash == res.IncomingHash {
		res.Matched = true
		res.Reason = ReasonMatch
		return
	}
	res.Reason = ReasonMismatch
}

// lookup finds the stored baseline for key, trying extensions in the fixed
// order.
func (s *Store) lookup(key string) (string, bool, error) {
	for _, ext := range extOrder {
		path := filepath.Join(s.dir, key+"."+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true, nil
		} else if !os.IsNotExist(err) {
			return "", false, fmt.Errorf("stat baseline %s: %w", path, err)
		}
	}
	return "", false, nil
}

// List returns every stored baseline, sorted by key.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baselines dir: %w", err)
	}
	var out []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		key := strings.TrimSuffix(name, "."+ext)
		if !keyPattern.MatchString(key) || !validExt(ext) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Key:     key,
			Ext:     ext,
			Path:    filepath.Join(s.dir, name),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func normalizeExt(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "png", nil
	}
	if !validExt(ext) {
		return "", fmt.Errorf("unsupported baseline extension %q", ext)
	}
	return ext, nil
}

func validExt(ext string) bool {
	for _, e := range extOrder {
		if e == ext {
			return true
		}
	}
	return false
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
