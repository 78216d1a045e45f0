package types

import "strings"

// RootID is the id of the root suite of every test tree.
const RootID = "root"

// DefaultRootLabel is the display name of the root suite.
const DefaultRootLabel = "Tests"

const (
	projectSuitePrefix = "project:"
	fileSuitePrefix    = "file:"
)

// ProjectSuiteID returns the id of the suite grouping the tests of project.
func ProjectSuiteID(project string) string {
	return projectSuitePrefix + project
}

// FileSuiteID returns the id of the suite grouping the tests of file within
// project. The same file in two projects yields two suites.
func FileSuiteID(project, file string) string {
	return fileSuitePrefix + project + "/" + file
}

// TestTreeNodeType defines the type of node in the test tree
type TestTreeNodeType string

const (
	NodeTypeSuite TestTreeNodeType = "suite" // Root, project or file container
	NodeTypeTest  TestTreeNodeType = "test"  // Individual test
)

// TestTreeNode represents a node in the hierarchical test tree
type TestTreeNode struct {
	Type     TestTreeNodeType `json:"type"`
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	File     string           `json:"file,omitempty"`
	Line     int              `json:"line,omitempty"`
	Children []*TestTreeNode  `json:"children,omitempty"`
}

// IsSuite reports whether the node groups other nodes.
func (n *TestTreeNode) IsSuite() bool {
	return n.Type == NodeTypeSuite
}

// Find returns the first node with the given id in depth-first order, or
// nil if none exists.
func (n *TestTreeNode) Find(id string) *TestTreeNode {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Leaves returns all test nodes under n in tree order.
func (n *TestTreeNode) Leaves() []*TestTreeNode {
	var leaves []*TestTreeNode
	n.walk(func(node *TestTreeNode) {
		if !node.IsSuite() {
			leaves = append(leaves, node)
		}
	})
	return leaves
}

// Count returns the number of test nodes under n.
func (n *TestTreeNode) Count() int {
	return len(n.Leaves())
}

func (n *TestTreeNode) walk(fn func(*TestTreeNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.walk(fn)
	}
}

// TestTreeBuilder builds the explorer tree from a flat list of tests
type TestTreeBuilder struct {
	rootLabel string
}

// NewTestTreeBuilder creates a new test tree builder
func NewTestTreeBuilder() *TestTreeBuilder {
	return &TestTreeBuilder{
		rootLabel: DefaultRootLabel,
	}
}

// WithRootLabel sets the display name of the root suite
func (b *TestTreeBuilder) WithRootLabel(label string) *TestTreeBuilder {
	if label != "" {
		b.rootLabel = label
	}
	return b
}

// Build groups tests into root -> project -> file -> test. Projects and
// files keep the order in which they are first seen, and are keyed by exact
// string equality.
func (b *TestTreeBuilder) Build(tests []TestDescriptor) *TestTreeNode {
	root := newSuite(RootID, b.rootLabel, "")

	projects := make(map[string]*TestTreeNode)
	files := make(map[string]map[string]*TestTreeNode)

	for _, test := range tests {
		projectNode, ok := projects[test.Project]
		if !ok {
			projectNode = newSuite(ProjectSuiteID(test.Project), test.Project, "")
			projects[test.Project] = projectNode
			files[test.Project] = make(map[string]*TestTreeNode)
			root.Children = append(root.Children, projectNode)
		}

		fileNode, ok := files[test.Project][test.File]
		if !ok {
			fileNode = newSuite(FileSuiteID(test.Project, test.File), FileLabel(test.File), test.File)
			files[test.Project][test.File] = fileNode
			projectNode.Children = append(projectNode.Children, fileNode)
		}

		fileNode.Children = append(fileNode.Children, &TestTreeNode{
			Type:  NodeTypeTest,
			ID:    test.ID,
			Label: test.Label,
			File:  test.File,
			Line:  test.Line,
		})
	}

	return root
}

func newSuite(id, label, file string) *TestTreeNode {
	return &TestTreeNode{
		Type:     NodeTypeSuite,
		ID:       id,
		Label:    label,
		File:     file,
		Children: make([]*TestTreeNode, 0),
	}
}

// FileLabel returns the final segment of a file path. Both separators are
// accepted because the runner may report Windows paths.
func FileLabel(file string) string {
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		return file[i+1:]
	}
	return file
}
