package load

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// WindowJSON is the serialized form of a scenario window in milliseconds.
type WindowJSON struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

func NewWindowJSON(w Window) WindowJSON {
	return WindowJSON{StartMs: w.Start.Milliseconds(), EndMs: w.End.Milliseconds()}
}

// ScenarioResult summarizes the outcomes recorded during one scenario window.
type ScenarioResult struct {
	Name               string     `json:"name"`
	Window             WindowJSON `json:"window"`
	Fault              string     `json:"fault,omitempty"`
	Total              uint64     `json:"total"`
	Succeeded          uint64     `json:"succeeded"`
	Failed             uint64     `json:"failed"`
	TimedOut           uint64     `json:"timed_out"`
	Dropped            uint64     `json:"dropped"`
	AvgLatencyMs       float64    `json:"avg_latency_ms"`
	RecoveryChecked    bool       `json:"recovery_checked,omitempty"`
	RecoverySuccessful bool       `json:"recovery_successful,omitempty"`
}

// Vulnerability is a failed security probe or a triggered domain guard.
type Vulnerability struct {
	Name    string `json:"name"`
	Result  string `json:"result"`
	Details string `json:"details"`
}

// RunResult is the document consumed by report and chart renderers.
// Failed includes timed out items; Generated = Total + Dropped.
type RunResult struct {
	StartedAt       time.Time            `json:"started_at"`
	Duration        time.Duration        `json:"-"`
	DurationMs      int64                `json:"duration_ms"`
	Generated       uint64               `json:"generated"`
	Total           uint64               `json:"total"`
	Succeeded       uint64               `json:"succeeded"`
	Failed          uint64               `json:"failed"`
	TimedOut        uint64               `json:"timed_out"`
	Dropped         uint64               `json:"dropped"`
	LatencyP50Ms    float64              `json:"latency_p50_ms"`
	LatencyP95Ms    float64              `json:"latency_p95_ms"`
	LatencyP99Ms    float64              `json:"latency_p99_ms"`
	AvgLatencyMs    float64              `json:"avg_latency_ms"`
	Scenarios       []ScenarioResult     `json:"scenarios"`
	Errors          map[ErrorKind]uint64 `json:"errors"`
	Vulnerabilities []Vulnerability      `json:"vulnerabilities"`
	Samples         []MetricSample       `json:"samples,omitempty"`
}

// FailedRatio is the share of processed items that did not confirm.
func (r *RunResult) FailedRatio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Total)
}

// WriteJSON writes the result to path, replacing any existing file.
func (r *RunResult) WriteJSON(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal run result: %w", err)
	}
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return fmt.Errorf("could not write run result to %s: %w", path, err)
	}
	return nil
}

// ReadJSON loads a previously written result.
func ReadJSON(path string) (*RunResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read run result: %w", err)
	}
	var r RunResult
	err = json.Unmarshal(b, &r)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal run result: %w", err)
	}
	return &r, nil
}
