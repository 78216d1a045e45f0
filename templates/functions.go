package templates

import (
	"fmt"
	"html/template"
	"time"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// GetTemplateFunc returns the template functions shared by the HTML reports
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			if d < time.Second {
				return fmt.Sprintf("%dms", d.Milliseconds())
			}
			return d.Truncate(time.Millisecond).String()
		},
		"getStateClass": getStateString,
		"getStateText":  getStateString,
		"getIndentClass": func(depth int) string {
			return fmt.Sprintf("indent-%d", depth)
		},
		"getOverallState": func(stats types.RunStats) types.TestState {
			switch {
			case stats.Failed > 0:
				return types.TestStateFailed
			case stats.Errored > 0 || stats.Pending > 0:
				return types.TestStateErrored
			case stats.Passed > 0:
				return types.TestStatePassed
			case stats.Skipped > 0:
				return types.TestStateSkipped
			default:
				return types.TestStateErrored
			}
		},
	}
}

// getStateString returns the short lowercase form of a test state
func getStateString(state types.TestState) string {
	switch state {
	case types.TestStatePassed:
		return "pass"
	case types.TestStateFailed:
		return "fail"
	case types.TestStateSkipped:
		return "skip"
	case types.TestStateErrored:
		return "error"
	case types.TestStateRunning:
		return "unfinished"
	default:
		return "unknown"
	}
}
