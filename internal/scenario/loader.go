// Package scenario loads scenario files for the CLI. Files live under
// .uxr/scenarios/ and come in two formats: TOML (preferred) and JSON
// (fallback for tooling that generates scenarios mechanically). The loaded
// form is the same wire shape the enqueue endpoint accepts, so a file-based
// run and an API run normalize identically.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/UXPLIMA/uxrcoder-hub/internal/testrun"
)

// Scenario file extensions. TOML is preferred, JSON is the fallback.
const (
	ExtTOML = ".scenario.toml"
	ExtJSON = ".scenario.json"
)

// Loader resolves scenario names to files and parses them.
//
// NOTE: Loader is not thread-safe. Create one per command invocation or
// synchronize access externally; the cache has no internal locking.
type Loader struct {
	// searchPaths are directories searched in order when resolving a name.
	searchPaths []string

	// cache stores parsed scenarios by absolute path and by name.
	cache map[string]*testrun.ScenarioInput
}

// NewLoader creates a scenario loader. With no arguments the default
// search paths apply: ./.uxr/scenarios, ~/.uxr/scenarios, $UXR_SCENARIO_PATH.
func NewLoader(searchPaths ...string) *Loader {
	paths := searchPaths
	if len(paths) == 0 {
		paths = defaultSearchPaths()
	}
	return &Loader{
		searchPaths: paths,
		cache:       make(map[string]*testrun.ScenarioInput),
	}
}

func defaultSearchPaths() []string {
	var paths []string

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".uxr", "scenarios"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".uxr", "scenarios"))
	}

	if extra := os.Getenv("UXR_SCENARIO_PATH"); extra != "" {
		paths = append(paths, extra)
	}

	return paths
}

// Load resolves a scenario by name or path. A name with a scenario
// extension or a path separator is treated as a direct file path;
// otherwise the search paths are tried in order, TOML before JSON.
func (l *Loader) Load(name string) (*testrun.ScenarioInput, error) {
	if strings.HasSuffix(name, ExtTOML) || strings.HasSuffix(name, ExtJSON) || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return l.LoadFile(name)
	}

	if cached, ok := l.cache[name]; ok {
		return cached, nil
	}

	for _, dir := range l.searchPaths {
		for _, ext := range []string{ExtTOML, ExtJSON} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return l.LoadFile(path)
			}
		}
	}

	return nil, fmt.Errorf("scenario %q not found in %s", name, strings.Join(l.searchPaths, ", "))
}

// LoadFile parses a scenario from an explicit file path. Results are
// cached by absolute path, so repeated loads return the same value.
func (l *Loader) LoadFile(path string) (*testrun.ScenarioInput, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	if cached, ok := l.cache[absPath]; ok {
		return cached, nil
	}

	// #nosec G304 -- absPath comes from controlled search paths or explicit user input
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var input *testrun.ScenarioInput
	if strings.HasSuffix(path, ExtJSON) {
		input, err = parseJSON(data)
	} else {
		input, err = parseTOML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if input.Name == "" {
		input.Name = nameFromPath(absPath)
	}

	l.cache[absPath] = input
	l.cache[input.Name] = input

	return input, nil
}

// parseTOML decodes a TOML scenario. Unknown keys are an error: a typo in
// a safety key would otherwise silently weaken the run's guardrails.
func parseTOML(data []byte) (*testrun.ScenarioInput, error) {
	var input testrun.ScenarioInput
	meta, err := toml.Decode(string(data), &input)
	if err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("toml: unknown keys: %s", strings.Join(keys, ", "))
	}
	return &input, nil
}

func parseJSON(data []byte) (*testrun.ScenarioInput, error) {
	var input testrun.ScenarioInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return &input, nil
}

// nameFromPath derives a scenario name from its file name.
func nameFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ExtTOML)
	base = strings.TrimSuffix(base, ExtJSON)
	return base
}
