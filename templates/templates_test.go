package templates

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

func TestGetHTMLTemplate(t *testing.T) {
	tmpl, err := GetHTMLTemplate(ResultsTemplate)
	require.NoError(t, err)

	data := map[string]any{
		"Title":    "Test Results",
		"RunID":    "run-1",
		"Duration": 1500 * time.Millisecond,
		"Stats":    types.RunStats{Total: 1, Failed: 1},
		"Error":    "",
		"Rows": []map[string]any{
			{"Suite": true, "Depth": 0, "Label": "Tests"},
			{"Suite": false, "Depth": 1, "Label": "Adds", "State": types.TestStateFailed, "File": "a.cs", "Line": 3, "Message": "expected <1>"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, data))
	out := buf.String()
	assert.Contains(t, out, `<h1 class="fail">Test Results</h1>`)
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "a.cs:3")
	assert.Contains(t, out, "expected &lt;1&gt;")

	_, err = GetHTMLTemplate("missing.html.tmpl")
	require.Error(t, err)
}

func TestTemplateFuncs(t *testing.T) {
	funcs := GetTemplateFunc()

	formatDuration := funcs["formatDuration"].(func(time.Duration) string)
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2.5s", formatDuration(2500*time.Millisecond))

	overall := funcs["getOverallState"].(func(types.RunStats) types.TestState)
	assert.Equal(t, types.TestStatePassed, overall(types.RunStats{Passed: 2}))
	assert.Equal(t, types.TestStateFailed, overall(types.RunStats{Passed: 2, Failed: 1}))
	assert.Equal(t, types.TestStateErrored, overall(types.RunStats{Passed: 2, Pending: 1}))
	assert.Equal(t, types.TestStateSkipped, overall(types.RunStats{Skipped: 1}))
	assert.Equal(t, types.TestStateErrored, overall(types.RunStats{}))

	assert.Equal(t, "unfinished", getStateString(types.TestStateRunning))
	assert.Equal(t, "unknown", getStateString(types.TestState("bogus")))
}
