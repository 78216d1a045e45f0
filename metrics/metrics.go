package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-test-explorer/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "test_explorer"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	Debug                bool = true
	validStates               = []types.TestState{types.TestStateRunning, types.TestStatePassed, types.TestStateFailed, types.TestStateSkipped, types.TestStateErrored}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_messages_total",
		Help:      "Count of protocol messages exchanged with the runner",
	}, []string{
		"direction",
		"type",
	})

	protocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_protocol_errors_total",
		Help:      "Count of frames from the runner that could not be decoded",
	})

	connectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_connect_attempts_total",
		Help:      "Count of connection attempts to the runner",
	}, []string{
		"result",
	})

	disconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_disconnects_total",
		Help:      "Count of runner connections lost",
	})

	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_connected",
		Help:      "1 if connected to the runner",
	})

	discoveredTests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "discovered_tests",
		Help:      "Number of tests in the last discovery",
	})

	discoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "discovery_duration_seconds",
		Help:      "Duration of test discovery",
		Buckets:   prometheus.DefBuckets,
	})

	testStatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_states_total",
		Help:      "Count of test state transitions",
	}, []string{
		"state",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of test runs",
	}, []string{
		"result",
	})

	runTestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Count of tests dispatched to the runner",
	})

	runDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last test run",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Per-state test counts of the last completed run",
	}, []string{
		"state",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordMessage(direction string, msgType string) {
	messagesTotal.WithLabelValues(direction, msgType).Inc()
}

func RecordProtocolError() {
	protocolErrorsTotal.Inc()
}

func RecordConnectAttempt(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	connectAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordConnected(up bool) {
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
	disconnectsTotal.Inc()
}

func RecordDiscovery(count int, duration time.Duration) {
	discoveredTests.Set(float64(count))
	discoveryDuration.Observe(duration.Seconds())
}

func RecordTestState(state types.TestState) {
	if !isValidState(state) {
		log.Error("RecordTestState - invalid state", "state", state)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_states_total",
			"state", state)
	}
	testStatesTotal.WithLabelValues(string(state)).Inc()
}

func RecordRun(dispatched int, failed bool) {
	result := "pass"
	if failed {
		result = "fail"
	}
	runsTotal.WithLabelValues(result).Inc()
	runTestsTotal.Add(float64(dispatched))
}

func RecordRunSummary(stats types.RunStats, duration time.Duration) {
	runResults.WithLabelValues(string(types.TestStatePassed)).Set(float64(stats.Passed))
	runResults.WithLabelValues(string(types.TestStateFailed)).Set(float64(stats.Failed))
	runResults.WithLabelValues(string(types.TestStateSkipped)).Set(float64(stats.Skipped))
	runResults.WithLabelValues(string(types.TestStateErrored)).Set(float64(stats.Errored))
	runResults.WithLabelValues(string(types.TestStateRunning)).Set(float64(stats.Pending))
	runDuration.Set(duration.Seconds())
}

func isValidState(state types.TestState) bool {
	return slices.Contains(validStates, state)
}
