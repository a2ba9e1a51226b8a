package testrun

import (
	"strings"
	"testing"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

func steps(n int) []types.ScenarioStep {
	out := make([]types.ScenarioStep, n)
	for i := range out {
		out[i] = types.ScenarioStep{Type: "assertProperty"}
	}
	return out
}

func TestNormalizeDefaults(t *testing.T) {
	sc, err := Normalize(&ScenarioInput{Name: "defaults", Steps: steps(2)})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sc.Safety.MaxSteps != DefaultMaxSteps {
		t.Errorf("maxSteps = %d, want %d", sc.Safety.MaxSteps, DefaultMaxSteps)
	}
	if sc.Safety.MaxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0", sc.Safety.MaxRetries)
	}
	if sc.Safety.RetryDelayMs != DefaultRetryDelayMs {
		t.Errorf("retryDelayMs = %d, want %d", sc.Safety.RetryDelayMs, DefaultRetryDelayMs)
	}
	if sc.Safety.RetryBackoffFactor != DefaultRetryBackoffFactor {
		t.Errorf("retryBackoffFactor = %v, want %v", sc.Safety.RetryBackoffFactor, DefaultRetryBackoffFactor)
	}
	if sc.Safety.MaxRetryDelayMs != DefaultMaxRetryDelayMs {
		t.Errorf("maxRetryDelayMs = %d, want %d", sc.Safety.MaxRetryDelayMs, DefaultMaxRetryDelayMs)
	}
	if sc.TimeoutMs != DefaultTimeoutMs {
		t.Errorf("timeoutMs = %d, want %d", sc.TimeoutMs, DefaultTimeoutMs)
	}
	if sc.Runtime.Mode != types.RuntimePlay {
		t.Errorf("runtime mode = %s, want play", sc.Runtime.Mode)
	}
	if !sc.Isolation.Enabled {
		t.Error("isolation not enabled by default")
	}
}

func TestNormalizeClamps(t *testing.T) {
	maxSteps := 5000
	maxRetries := 99
	factor := 0.5
	lowTimeout := int64(1)
	in := &ScenarioInput{
		Steps: steps(1),
		Safety: &SafetyInput{
			MaxSteps:           &maxSteps,
			MaxRetries:         &maxRetries,
			RetryBackoffFactor: &factor,
		},
		TimeoutMs: &lowTimeout,
	}
	sc, err := Normalize(in)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sc.Safety.MaxSteps != AbsoluteMaxSteps {
		t.Errorf("maxSteps = %d, want clamped to %d", sc.Safety.MaxSteps, AbsoluteMaxSteps)
	}
	if sc.Safety.MaxRetries != MaxRetriesCap {
		t.Errorf("maxRetries = %d, want clamped to %d", sc.Safety.MaxRetries, MaxRetriesCap)
	}
	if sc.Safety.RetryBackoffFactor != 1.0 {
		t.Errorf("retryBackoffFactor = %v, want clamped to 1.0", sc.Safety.RetryBackoffFactor)
	}
	if sc.TimeoutMs != MinTimeoutMs {
		t.Errorf("timeoutMs = %d, want clamped to %d", sc.TimeoutMs, MinTimeoutMs)
	}

	highTimeout := int64(86_400_000)
	sc, err = Normalize(&ScenarioInput{Steps: steps(1), TimeoutMs: &highTimeout})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sc.TimeoutMs != MaxTimeoutMs {
		t.Errorf("timeoutMs = %d, want clamped to %d", sc.TimeoutMs, MaxTimeoutMs)
	}
}

func TestNormalizeErrors(t *testing.T) {
	two := 2
	tests := []struct {
		name    string
		in      *ScenarioInput
		wantSub string
	}{
		{"nil input", nil, "required"},
		{"no steps", &ScenarioInput{Name: "empty"}, "must not be empty"},
		{"step without type", &ScenarioInput{Steps: []types.ScenarioStep{{Params: map[string]any{}}}}, "no type"},
		{"over step limit", &ScenarioInput{Steps: steps(3), Safety: &SafetyInput{MaxSteps: &two}}, "limit is 2"},
		{"destructive without opt-in", &ScenarioInput{Steps: []types.ScenarioStep{{Type: "deleteInstance"}}}, "safety.allowDestructiveActions"},
		{"invalid runtime mode", &ScenarioInput{Steps: steps(1), Runtime: &RuntimeInput{Mode: "dream"}}, "invalid runtime mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestNormalizeDestructiveOptIn(t *testing.T) {
	sc, err := Normalize(&ScenarioInput{
		Steps:  []types.ScenarioStep{{Type: "resetWorkspace"}},
		Safety: &SafetyInput{AllowDestructiveActions: true},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !sc.Safety.AllowDestructiveActions {
		t.Error("opt-in not carried through")
	}
}

func TestNormalizeRuntimeModes(t *testing.T) {
	tests := []struct {
		mode string
		want types.RuntimeMode
	}{
		{"", types.RuntimePlay},
		{"play", types.RuntimePlay},
		{"run", types.RuntimeRun},
		{"server", types.RuntimeRun}, // legacy spelling
		{"none", types.RuntimeNone},
	}
	for _, tt := range tests {
		in := &ScenarioInput{Steps: steps(1)}
		if tt.mode != "" {
			in.Runtime = &RuntimeInput{Mode: tt.mode}
		}
		sc, err := Normalize(in)
		if err != nil {
			t.Fatalf("mode %q: %v", tt.mode, err)
		}
		if sc.Runtime.Mode != tt.want {
			t.Errorf("mode %q normalized to %s, want %s", tt.mode, sc.Runtime.Mode, tt.want)
		}
	}
}

func TestNormalizeIsolation(t *testing.T) {
	off := false
	opts := map[string]any{"preserveSelection": true}
	sc, err := Normalize(&ScenarioInput{
		Steps:     steps(1),
		Isolation: &IsolationInput{Enabled: &off, Options: opts},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if sc.Isolation.Enabled {
		t.Error("explicit enabled=false ignored")
	}
	opts["preserveSelection"] = false
	if sc.Isolation.Options["preserveSelection"] != true {
		t.Error("isolation options alias the input map")
	}
}

func TestRetryDelay(t *testing.T) {
	base := types.ScenarioSafety{RetryDelayMs: 1500, RetryBackoffFactor: 2.0, MaxRetryDelayMs: 30_000}
	flat := types.ScenarioSafety{RetryDelayMs: 1500, RetryBackoffFactor: 1.0, MaxRetryDelayMs: 30_000}
	zero := types.ScenarioSafety{RetryDelayMs: 0, RetryBackoffFactor: 2.0, MaxRetryDelayMs: 30_000}

	tests := []struct {
		name    string
		safety  types.ScenarioSafety
		attempt int
		want    int64
	}{
		{"first retry", base, 1, 1500},
		{"second doubles", base, 2, 3000},
		{"third doubles again", base, 3, 6000},
		{"capped at max", base, 6, 30_000},
		{"flat factor", flat, 5, 1500},
		{"zero delay stays zero", zero, 4, 0},
		{"attempt floor", base, 0, 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryDelay(tt.safety, tt.attempt); got != tt.want {
				t.Errorf("RetryDelay(attempt=%d) = %d, want %d", tt.attempt, got, tt.want)
			}
		})
	}
}
