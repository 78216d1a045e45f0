package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTests() []TestDescriptor {
	return []TestDescriptor{
		{ID: "DBS.Coordinator.BuildDispatcherTest.TestDispatch", Project: "foo", File: `c:\Enlist\foo.cs`, Label: "TestDispatch", Line: 80},
		{ID: "DBS.Coordinator.BuildDispatcherTest.LoadBuildTest", Project: "foo", File: `c:\Enlist\foo.cs`, Label: "LoadBuildTest", Line: 81},
		{ID: "DBS.Coordinator.WorkflowTest.GitClient", Project: "foo", File: `c:\Enlist\bar.cs`, Label: "GitClient", Line: 11},
		{ID: "DBS.TaskDelegator.Enlister.SourceDepotTest", Project: "baz", File: `c:\Enlist\foo2.cs`, Label: "SourceDepotTest", Line: 1111},
	}
}

func TestTestTreeBuilder_Build(t *testing.T) {
	root := NewTestTreeBuilder().Build(sampleTests())

	require.Equal(t, RootID, root.ID)
	require.Equal(t, NodeTypeSuite, root.Type)
	require.Len(t, root.Children, 2)

	foo := root.Children[0]
	assert.Equal(t, "project:foo", foo.ID)
	assert.Equal(t, "foo", foo.Label)
	require.Len(t, foo.Children, 2)

	fooFile := foo.Children[0]
	assert.Equal(t, `file:foo/c:\Enlist\foo.cs`, fooFile.ID)
	assert.Equal(t, "foo.cs", fooFile.Label)
	assert.Equal(t, `c:\Enlist\foo.cs`, fooFile.File)
	require.Len(t, fooFile.Children, 2)
	assert.Equal(t, "DBS.Coordinator.BuildDispatcherTest.TestDispatch", fooFile.Children[0].ID)
	assert.Equal(t, "DBS.Coordinator.BuildDispatcherTest.LoadBuildTest", fooFile.Children[1].ID)
	assert.Equal(t, 81, fooFile.Children[1].Line)
	assert.Equal(t, NodeTypeTest, fooFile.Children[1].Type)

	assert.Equal(t, "bar.cs", foo.Children[1].Label)

	baz := root.Children[1]
	assert.Equal(t, ProjectSuiteID("baz"), baz.ID)
	require.Len(t, baz.Children, 1)
	assert.Equal(t, "foo2.cs", baz.Children[0].Label)
}

func TestTestTreeBuilder_SameFileAndProject(t *testing.T) {
	root := NewTestTreeBuilder().Build([]TestDescriptor{
		{ID: "a", Project: "p", File: "src/a_test.cs", Label: "A"},
		{ID: "b", Project: "p", File: "src/a_test.cs", Label: "B"},
	})

	require.Len(t, root.Children, 1)
	require.Len(t, root.Children[0].Children, 1)
	require.Len(t, root.Children[0].Children[0].Children, 2)
}

func TestTestTreeBuilder_GroupCounts(t *testing.T) {
	var tests []TestDescriptor
	projects := []string{"p1", "p2", "p3"}
	filesPerProject := map[string]int{"p1": 1, "p2": 3, "p3": 2}
	for _, p := range projects {
		for f := 0; f < filesPerProject[p]; f++ {
			for i := 0; i < 2; i++ {
				tests = append(tests, TestDescriptor{
					ID:      fmt.Sprintf("%s.f%d.t%d", p, f, i),
					Project: p,
					File:    fmt.Sprintf("/src/%s/f%d.cs", p, f),
				})
			}
		}
	}
	// Interleave a late test for the first project to check first-seen order.
	tests = append(tests, TestDescriptor{ID: "p1.f0.late", Project: "p1", File: "/src/p1/f0.cs"})

	root := NewTestTreeBuilder().Build(tests)
	require.Len(t, root.Children, len(projects))
	for i, p := range projects {
		assert.Equal(t, p, root.Children[i].ID)
		assert.Len(t, root.Children[i].Children, filesPerProject[p])
	}

	leaves := root.Leaves()
	require.Len(t, leaves, len(tests))
	seen := make(map[string]bool)
	for _, leaf := range leaves {
		assert.False(t, seen[leaf.ID], "leaf %s appears twice", leaf.ID)
		seen[leaf.ID] = true
	}
	lastInFile := root.Children[0].Children[0].Children
	assert.Equal(t, "p1.f0.late", lastInFile[len(lastInFile)-1].ID)
}

func TestTestTreeBuilder_NoPathNormalization(t *testing.T) {
	root := NewTestTreeBuilder().Build([]TestDescriptor{
		{ID: "a", Project: "p", File: "src/Foo.cs"},
		{ID: "b", Project: "p", File: "src/foo.cs"},
		{ID: "c", Project: "p", File: `src\Foo.cs`},
	})
	require.Len(t, root.Children[0].Children, 3)
}

func TestTestTreeBuilder_Empty(t *testing.T) {
	root := NewTestTreeBuilder().WithRootLabel("mstest").Build(nil)
	assert.Equal(t, RootID, root.ID)
	assert.Equal(t, "mstest", root.Label)
	assert.Empty(t, root.Children)
	assert.Equal(t, 0, root.Count())
}

func TestTestTreeNode_Find(t *testing.T) {
	root := NewTestTreeBuilder().Build(sampleTests())

	tests := []struct {
		name     string
		id       string
		wantType TestTreeNodeType
		wantNil  bool
	}{
		{name: "root", id: RootID, wantType: NodeTypeSuite},
		{name: "project", id: ProjectSuiteID("baz"), wantType: NodeTypeSuite},
		{name: "file", id: FileSuiteID("foo", `c:\Enlist\bar.cs`), wantType: NodeTypeSuite},
		{name: "raw project name", id: "baz", wantNil: true},
		{name: "leaf", id: "DBS.Coordinator.WorkflowTest.GitClient", wantType: NodeTypeTest},
		{name: "missing", id: "nope", wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := root.Find(tt.id)
			if tt.wantNil {
				assert.Nil(t, node)
				return
			}
			require.NotNil(t, node)
			assert.Equal(t, tt.id, node.ID)
			assert.Equal(t, tt.wantType, node.Type)
		})
	}

	var nilRoot *TestTreeNode
	assert.Nil(t, nilRoot.Find(RootID))
}

func TestTestTreeNode_SuiteIDsDoNotCollide(t *testing.T) {
	root := NewTestTreeBuilder().Build([]TestDescriptor{
		{ID: "x", Project: "dup", File: "shared.cs"},
		{ID: "dup", Project: "other", File: "shared.cs"},
		{ID: "y", Project: RootID, File: "dup"},
	})

	test := root.Find("dup")
	require.NotNil(t, test)
	assert.Equal(t, NodeTypeTest, test.Type)

	// A file shared by two projects gets one suite per project.
	first := root.Find(FileSuiteID("dup", "shared.cs"))
	second := root.Find(FileSuiteID("other", "shared.cs"))
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, "x", first.Children[0].ID)
	assert.Equal(t, "dup", second.Children[0].ID)

	// A project named root does not shadow the root suite.
	assert.Same(t, root, root.Find(RootID))
	require.NotNil(t, root.Find(ProjectSuiteID(RootID)))
}

func TestFileLabel(t *testing.T) {
	assert.Equal(t, "foo.cs", FileLabel(`c:\Enlist\foo.cs`))
	assert.Equal(t, "foo_test.go", FileLabel("/home/u/src/foo_test.go"))
	assert.Equal(t, "plain.cs", FileLabel("plain.cs"))
	assert.Equal(t, "", FileLabel("dir/"))
}
