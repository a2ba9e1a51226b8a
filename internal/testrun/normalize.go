package testrun

import (
	"fmt"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

// Normalization bounds. Incoming scenarios are clamped into these ranges
// rather than rejected, except for the hard step-count cap.
const (
	DefaultMaxSteps  = 200
	AbsoluteMaxSteps = 1000

	DefaultTimeoutMs int64 = 120_000
	MinTimeoutMs     int64 = 5_000
	MaxTimeoutMs     int64 = 900_000

	DefaultRetryDelayMs       int64   = 1500
	DefaultRetryBackoffFactor float64 = 2.0
	DefaultMaxRetryDelayMs    int64   = 30_000
	MaxRetryDelayCeilingMs    int64   = 3_600_000

	MaxRetriesCap = 10
)

// destructiveStepTypes are editor-side actions that modify or remove user
// content beyond the isolation sandbox. They require an explicit opt-in.
var destructiveStepTypes = map[string]bool{
	"deleteInstance": true,
	"clearChildren":  true,
	"resetWorkspace": true,
	"runScript":      true,
}

// ScenarioInput is the wire form of a scenario as submitted to the enqueue
// endpoint. Pointer fields distinguish absent from zero so normalization can
// apply defaults.
type ScenarioInput struct {
	Name      string               `json:"name,omitempty"`
	Steps     []types.ScenarioStep `json:"steps"`
	Safety    *SafetyInput         `json:"safety,omitempty"`
	Runtime   *RuntimeInput        `json:"runtime,omitempty"`
	Isolation *IsolationInput      `json:"isolation,omitempty"`
	TimeoutMs *int64               `json:"timeoutMs,omitempty"`
}

// SafetyInput is the wire form of the safety block.
type SafetyInput struct {
	MaxSteps                *int     `json:"maxSteps,omitempty"`
	MaxRetries              *int     `json:"maxRetries,omitempty"`
	RetryDelayMs            *int64   `json:"retryDelayMs,omitempty"`
	RetryBackoffFactor      *float64 `json:"retryBackoffFactor,omitempty"`
	MaxRetryDelayMs         *int64   `json:"maxRetryDelayMs,omitempty"`
	AllowDestructiveActions bool     `json:"allowDestructiveActions,omitempty"`
}

// RuntimeInput is the wire form of the runtime block.
type RuntimeInput struct {
	Mode string `json:"mode,omitempty"`
}

// IsolationInput is the wire form of the isolation block.
type IsolationInput struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Normalize validates the input and produces a dispatch-ready scenario with
// every default applied and every numeric bound clamped.
func Normalize(input *ScenarioInput) (*types.Scenario, error) {
	if input == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	if len(input.Steps) == 0 {
		return nil, fmt.Errorf("scenario steps must not be empty")
	}

	safety := types.ScenarioSafety{
		MaxSteps:           DefaultMaxSteps,
		RetryDelayMs:       DefaultRetryDelayMs,
		RetryBackoffFactor: DefaultRetryBackoffFactor,
		MaxRetryDelayMs:    DefaultMaxRetryDelayMs,
	}
	if in := input.Safety; in != nil {
		safety.AllowDestructiveActions = in.AllowDestructiveActions
		if in.MaxSteps != nil {
			safety.MaxSteps = clampInt(*in.MaxSteps, 1, AbsoluteMaxSteps)
		}
		if in.MaxRetries != nil {
			safety.MaxRetries = clampInt(*in.MaxRetries, 0, MaxRetriesCap)
		}
		if in.RetryDelayMs != nil {
			safety.RetryDelayMs = clampInt64(*in.RetryDelayMs, 0, MaxRetryDelayCeilingMs)
		}
		if in.RetryBackoffFactor != nil {
			safety.RetryBackoffFactor = clampFloat(*in.RetryBackoffFactor, 1.0, 10.0)
		}
		if in.MaxRetryDelayMs != nil {
			safety.MaxRetryDelayMs = clampInt64(*in.MaxRetryDelayMs, 0, MaxRetryDelayCeilingMs)
		}
	}

	if len(input.Steps) > safety.MaxSteps {
		return nil, fmt.Errorf("scenario has %d steps, limit is %d", len(input.Steps), safety.MaxSteps)
	}
	steps := make([]types.ScenarioStep, len(input.Steps))
	for i, step := range input.Steps {
		if step.Type == "" {
			return nil, fmt.Errorf("step %d has no type", i)
		}
		if destructiveStepTypes[step.Type] && !safety.AllowDestructiveActions {
			return nil, fmt.Errorf("step %d type %q is destructive; set safety.allowDestructiveActions to use it", i, step.Type)
		}
		steps[i] = step.Clone()
	}

	mode := types.RuntimePlay
	if input.Runtime != nil && input.Runtime.Mode != "" {
		switch m := input.Runtime.Mode; m {
		case "server": // legacy spelling
			mode = types.RuntimeRun
		default:
			mode = types.RuntimeMode(m)
			if !mode.IsValid() {
				return nil, fmt.Errorf("invalid runtime mode %q", m)
			}
		}
	}

	isolation := types.Isolation{Enabled: true}
	if in := input.Isolation; in != nil {
		if in.Enabled != nil {
			isolation.Enabled = *in.Enabled
		}
		if in.Options != nil {
			isolation.Options = make(map[string]any, len(in.Options))
			for k, v := range in.Options {
				isolation.Options[k] = v
			}
		}
	}

	timeoutMs := DefaultTimeoutMs
	if input.TimeoutMs != nil {
		timeoutMs = clampInt64(*input.TimeoutMs, MinTimeoutMs, MaxTimeoutMs)
	}

	return &types.Scenario{
		Name:      input.Name,
		Steps:     steps,
		Safety:    safety,
		Runtime:   types.ScenarioRuntime{Mode: mode},
		Isolation: isolation,
		TimeoutMs: timeoutMs,
	}, nil
}

// RetryDelay computes the backoff before re-dispatching after the given
// 1-based attempt failed: min(maxRetryDelayMs, retryDelayMs*factor^(attempt-1)),
// clamped to [0, 1h].
func RetryDelay(safety types.ScenarioSafety, attempt int) int64 {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(safety.RetryDelayMs)
	for i := 1; i < attempt; i++ {
		delay *= safety.RetryBackoffFactor
		if int64(delay) >= safety.MaxRetryDelayMs {
			break
		}
	}
	d := int64(delay)
	if d > safety.MaxRetryDelayMs {
		d = safety.MaxRetryDelayMs
	}
	return clampInt64(d, 0, MaxRetryDelayCeilingMs)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
