// Package logging writes the events and results of every run to a directory
// per run.
package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-test-explorer/reporting"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

const (
	RunDirectoryPrefix  = "testrun-" // Standardized prefix for run directories
	EventsFilename      = "events.jsonl"
	ResultsFilename     = "results.json"
	SummaryFilename     = "summary.txt"
	HTMLResultsFilename = "results.html"
	FailedDirname       = "failed"
)

// Run is a finished run handed to every ResultSink.
type Run struct {
	Dir     string // Directory of the run
	Summary *types.RunSummary
	Tree    *types.TestTreeNode // Tree the run was resolved against, may be nil
}

// ResultSink writes one artifact of a finished run
type ResultSink interface {
	Complete(run Run) error
}

// FileLogger streams run events to disk while a run is in progress and
// hands the finished run to its sinks.
type FileLogger struct {
	baseDir      string
	log          log.Logger
	mu           sync.Mutex            // Protects asyncWriters
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Events file writer per run id
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	log     log.Logger
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile opens path for appending and starts its background writer.
func NewAsyncFile(path string, logger log.Logger) (*AsyncFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	af := &AsyncFile{
		file:  file,
		log:   logger,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues a copy of data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()
	if af.stopped {
		return errors.New("async file is closed")
	}
	af.queue <- append([]byte(nil), data...)
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()
	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.log.Error("Failed to write to file", "file", af.file.Name(), "err", err)
		}
	}
}

// Close drains the queue and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a FileLogger writing below baseDir with the default
// sinks: a JSON results file, a text summary, an HTML report and one file
// per failed test.
func NewFileLogger(baseDir string, logger log.Logger) (*FileLogger, error) {
	if baseDir == "" {
		return nil, errors.New("baseDir cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	html, err := reporting.NewHTMLFormatter("Test Results")
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		baseDir: baseDir,
		log:     logger,
		sinks: []ResultSink{
			&JSONResultsSink{},
			&TextSummarySink{},
			&HTMLSink{formatter: html},
			&FailedTestsSink{},
		},
		asyncWriters: make(map[string]*AsyncFile),
	}, nil
}

// GetDirectoryForRunID returns the directory of a run and creates it.
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", errors.New("runID cannot be empty")
	}
	dir := filepath.Join(l.baseDir, RunDirectoryPrefix+safeFilename(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// LogEvent appends event as one JSON line to the events file of the run.
func (l *FileLogger) LogEvent(runID string, event any) error {
	writer, err := l.eventsWriter(runID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return writer.Write(append(data, '\n'))
}

func (l *FileLogger) eventsWriter(runID string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, ok := l.asyncWriters[runID]; ok {
		return writer, nil
	}
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return nil, err
	}
	writer, err := NewAsyncFile(filepath.Join(dir, EventsFilename), l.log)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[runID] = writer
	return writer, nil
}

// Complete closes the events file of the run and writes the artifacts of
// every sink. It returns the run directory.
func (l *FileLogger) Complete(summary *types.RunSummary, tree *types.TestTreeNode) (string, error) {
	if summary == nil {
		return "", errors.New("summary cannot be nil")
	}
	dir, err := l.GetDirectoryForRunID(summary.RunID)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	writer, ok := l.asyncWriters[summary.RunID]
	delete(l.asyncWriters, summary.RunID)
	l.mu.Unlock()

	var result error
	if ok {
		if err := writer.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close events file: %w", err))
		}
	}

	run := Run{Dir: dir, Summary: summary, Tree: tree}
	for _, sink := range l.sinks {
		if err := sink.Complete(run); err != nil {
			result = errors.Join(result, fmt.Errorf("error in sink: %w", err))
		}
	}
	return dir, result
}

// Close closes the events files of runs that never completed.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result error
	for runID, writer := range l.asyncWriters {
		result = errors.Join(result, writer.Close())
		delete(l.asyncWriters, runID)
	}
	return result
}

// GetBaseDir returns the directory holding all run directories
func (l *FileLogger) GetBaseDir() string {
	return l.baseDir
}

// JSONResultsSink writes the summary of a run as JSON
type JSONResultsSink struct{}

type jsonResults struct {
	RunID      string              `json:"runId"`
	DurationMs int64               `json:"durationMs"`
	Stats      types.RunStats      `json:"stats"`
	Error      string              `json:"error,omitempty"`
	Tests      []types.TestSummary `json:"tests"`
}

func (s *JSONResultsSink) Complete(run Run) error {
	results := jsonResults{
		RunID:      run.Summary.RunID,
		DurationMs: run.Summary.Duration.Milliseconds(),
		Stats:      run.Summary.Stats(),
		Tests:      run.Summary.Tests,
	}
	if run.Summary.Err != nil {
		results.Error = run.Summary.Err.Error()
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return os.WriteFile(filepath.Join(run.Dir, ResultsFilename), data, 0o644)
}

// TextSummarySink writes the tree and the results table as plain text
type TextSummarySink struct{}

func (s *TextSummarySink) Complete(run Run) error {
	var b strings.Builder
	if run.Tree != nil {
		b.WriteString(reporting.NewTreeFormatter(true).Format(run.Tree))
		b.WriteString("\n")
	}
	b.WriteString(reporting.NewSummaryFormatter("Test Results").Plain().Format(run.Summary))
	return os.WriteFile(filepath.Join(run.Dir, SummaryFilename), []byte(b.String()), 0o644)
}

// HTMLSink writes the HTML report of a run
type HTMLSink struct {
	formatter *reporting.HTMLFormatter
}

func (s *HTMLSink) Complete(run Run) error {
	file, err := os.Create(filepath.Join(run.Dir, HTMLResultsFilename))
	if err != nil {
		return fmt.Errorf("failed to create HTML report: %w", err)
	}
	if err := s.formatter.Format(file, run.Summary, run.Tree); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// FailedTestsSink writes the full message of every test that failed,
// errored or never finished into the failed directory of the run.
type FailedTestsSink struct{}

func (s *FailedTestsSink) Complete(run Run) error {
	var failed []types.TestSummary
	for _, test := range run.Summary.Tests {
		switch test.State {
		case types.TestStateFailed, types.TestStateErrored, types.TestStateRunning:
			failed = append(failed, test)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	dir := filepath.Join(run.Dir, FailedDirname)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create failed tests directory: %w", err)
	}
	for _, test := range failed {
		content := fmt.Sprintf("Test: %s\nID: %s\nState: %s\n\n%s\n", test.Label, test.ID, test.State, test.Message)
		path := filepath.Join(dir, safeFilename(test.ID)+".txt")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write failed test log: %w", err)
		}
	}
	return nil
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return replacer.Replace(s)
}
