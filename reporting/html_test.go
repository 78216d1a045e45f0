package reporting

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

func TestHTMLFormatter(t *testing.T) {
	tree := types.NewTestTreeBuilder().Build([]types.TestDescriptor{
		{ID: "t1", Project: "ProjA", File: "src/FooTests.cs", Label: "Adds", Line: 12},
		{ID: "t2", Project: "ProjA", File: "src/FooTests.cs", Label: "Subtracts", Line: 20},
		{ID: "t3", Project: "ProjB", File: "src/BarTests.cs", Label: "Works", Line: 4},
	})
	summary := types.NewRunSummary("run-7")
	summary.Record("t1", "Adds", types.TestStatePassed, "")
	summary.Record("t2", "Subtracts", types.TestStateFailed, "expected <1>\nat Foo.Subtracts()")
	summary.Record("gone", "Removed", types.TestStateErrored, "not in tree")

	f, err := NewHTMLFormatter("Test Results")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, summary, tree))
	out := buf.String()

	assert.Contains(t, out, "run-7")
	assert.Contains(t, out, "ProjA")
	assert.Contains(t, out, "FooTests.cs")
	assert.Contains(t, out, "src/FooTests.cs:20")
	assert.Contains(t, out, "expected &lt;1&gt;")
	// Suites without a test in the run are left out.
	assert.NotContains(t, out, "ProjB")
	assert.NotContains(t, out, "Works")
	// Tests missing from the tree are still listed.
	assert.Contains(t, out, "Removed")
	assert.Less(t, strings.Index(out, "Subtracts"), strings.Index(out, "Removed"))

	summary.Err = errors.New("connection to runner lost")
	buf.Reset()
	require.NoError(t, f.Format(&buf, summary, nil))
	assert.Contains(t, buf.String(), "Run error: connection to runner lost")
}
