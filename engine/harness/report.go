package harness

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// WriteReport renders a markdown summary of result. Runs whose failed ratio
// exceeds threshold are marked as failed.
func WriteReport(w io.Writer, result *load.RunResult, threshold float64) error {
	p := &printer{w: w}
	verdict := "PASSED"
	if result.FailedRatio() > threshold {
		verdict = "FAILED"
	}

	p.printf("# Load test report\n\n")
	p.printf("Started %s, ran for %d ms. Result: **%s** (failed ratio %.2f%%, threshold %.2f%%).\n\n",
		result.StartedAt.Format("2006-01-02 15:04:05 MST"), result.DurationMs, verdict,
		100*result.FailedRatio(), 100*threshold)

	p.printf("## Summary\n\n")
	p.printf("| Metric | Value |\n|---|---|\n")
	p.printf("| Generated | %d |\n", result.Generated)
	p.printf("| Processed | %d |\n", result.Total)
	p.printf("| Succeeded | %d |\n", result.Succeeded)
	p.printf("| Failed | %d |\n", result.Failed)
	p.printf("| Timed out | %d |\n", result.TimedOut)
	p.printf("| Dropped | %d |\n", result.Dropped)
	p.printf("| Latency p50 | %.2f ms |\n", result.LatencyP50Ms)
	p.printf("| Latency p95 | %.2f ms |\n", result.LatencyP95Ms)
	p.printf("| Latency p99 | %.2f ms |\n", result.LatencyP99Ms)
	p.printf("| Latency avg | %.2f ms |\n", result.AvgLatencyMs)

	if len(result.Scenarios) > 0 {
		p.printf("\n## Scenarios\n\n")
		p.printf("| Scenario | Window (ms) | Fault | Total | Succeeded | Failed | Avg latency (ms) | Recovery |\n")
		p.printf("|---|---|---|---|---|---|---|---|\n")
		for _, s := range result.Scenarios {
			fault := s.Fault
			if fault == "" {
				fault = "none"
			}
			p.printf("| %s | %d-%d | %s | %d | %d | %d | %.2f | %s |\n",
				s.Name, s.Window.StartMs, s.Window.EndMs, fault,
				s.Total, s.Succeeded, s.Failed, s.AvgLatencyMs, recovery(s))
		}
	}

	if len(result.Errors) > 0 {
		p.printf("\n## Errors\n\n")
		p.printf("| Kind | Count |\n|---|---|\n")
		kinds := maps.Keys(result.Errors)
		slices.SortFunc(kinds, func(a, b load.ErrorKind) int {
			switch {
			case result.Errors[a] > result.Errors[b]:
				return -1
			case result.Errors[a] < result.Errors[b]:
				return 1
			}
			return strings.Compare(string(a), string(b))
		})
		for _, kind := range kinds {
			p.printf("| %s | %d |\n", kind, result.Errors[kind])
		}
	}

	p.printf("\n## Security probes\n\n")
	if len(result.Vulnerabilities) == 0 {
		p.printf("No vulnerabilities found.\n")
	}
	for _, v := range result.Vulnerabilities {
		p.printf("- **%s**: %s. %s\n", v.Name, v.Result, v.Details)
	}
	return p.err
}

// WriteReportFile writes the markdown summary to path.
func WriteReportFile(path string, result *load.RunResult, threshold float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create report file: %w", err)
	}
	err = WriteReport(f, result, threshold)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("could not write report: %w", err)
	}
	return f.Close()
}

func recovery(s load.ScenarioResult) string {
	switch {
	case !s.RecoveryChecked:
		return "-"
	case s.RecoverySuccessful:
		return "recovered"
	default:
		return "not recovered"
	}
}

// printer remembers the first write error so that the report is rendered
// without checking every line.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
