package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-test-explorer/adapter"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

// fakeExplorer serves a fixed tree and records runs
type fakeExplorer struct {
	tree *types.TestTreeNode

	mu      sync.Mutex
	runs    [][]string
	runCh   chan []string
	states  []func(adapter.StateEvent)
	tests   []func(adapter.TestsEvent)
	autorun []func()
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{
		tree: types.NewTestTreeBuilder().Build([]types.TestDescriptor{
			{ID: "t1", Project: "p1", File: "src/a.cs", Label: "One", Line: 3},
			{ID: "t2", Project: "p1", File: "src/a.cs", Label: "Two", Line: 9},
		}),
		runCh: make(chan []string, 4),
	}
}

func (f *fakeExplorer) Load(context.Context) adapter.TestsEvent {
	ev := adapter.TestsEvent{Type: adapter.EventFinished, Suite: f.tree}
	f.emitTests(ev)
	return ev
}

func (f *fakeExplorer) Tree() *types.TestTreeNode { return f.tree }

func (f *fakeExplorer) Run(_ context.Context, ids []string) error {
	f.mu.Lock()
	f.runs = append(f.runs, ids)
	f.mu.Unlock()
	f.runCh <- ids
	return nil
}

func (f *fakeExplorer) SubscribeTests(fn func(adapter.TestsEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, fn)
	return func() {}
}

func (f *fakeExplorer) SubscribeStates(fn func(adapter.StateEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.states)
	f.states = append(f.states, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states[i] = nil
	}
}

func (f *fakeExplorer) SubscribeAutorun(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autorun = append(f.autorun, fn)
	return func() {}
}

func (f *fakeExplorer) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fn := range f.states {
		if fn != nil {
			n++
		}
	}
	return n
}

func (f *fakeExplorer) emitState(ev adapter.StateEvent) {
	f.mu.Lock()
	fns := append([]func(adapter.StateEvent){}, f.states...)
	f.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(ev)
		}
	}
}

func (f *fakeExplorer) emitTests(ev adapter.TestsEvent) {
	f.mu.Lock()
	fns := append([]func(adapter.TestsEvent){}, f.tests...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func newTestAPI(t *testing.T) (*fakeExplorer, *httptest.Server) {
	t.Helper()
	explorer := newFakeExplorer()
	api := NewAPIServer(explorer, log.NewLogger(log.DiscardHandler()))
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, api.Shutdown(context.Background()))
	})
	return explorer, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/events"
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestAPI_Tree(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/tree")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var root types.TestTreeNode
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	assert.Equal(t, types.RootID, root.ID)
	assert.Equal(t, 2, root.Count())
}

func TestAPI_Node(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/tree/" + types.FileSuiteID("p1", "src/a.cs"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var node types.TestTreeNode
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&node))
	assert.Equal(t, "a.cs", node.Label)
	assert.Len(t, node.Children, 2)

	missing, err := http.Get(ts.URL + "/tree/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPI_Load(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Post(ts.URL+"/load", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ev adapter.TestsEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	assert.Equal(t, adapter.EventFinished, ev.Type)
	require.NotNil(t, ev.Suite)
	assert.Equal(t, 2, ev.Suite.Count())

	get, err := http.Get(ts.URL + "/load")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestAPI_Run(t *testing.T) {
	explorer, ts := newTestAPI(t)

	testCases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"no ids", `{"ids":[]}`, http.StatusBadRequest},
		{"accepted", `{"ids":["project:p1","t2"]}`, http.StatusAccepted},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}

	select {
	case ids := <-explorer.runCh:
		assert.Equal(t, []string{"project:p1", "t2"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started")
	}
}

func TestAPI_RunAfterShutdown(t *testing.T) {
	explorer := newFakeExplorer()
	api := NewAPIServer(explorer, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, api.Shutdown(context.Background()))

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"ids":["t1"]}`))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, explorer.runCh)
}

func TestAPI_CORS(t *testing.T) {
	_, ts := newTestAPI(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/tree", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_Events(t *testing.T) {
	explorer, ts := newTestAPI(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return explorer.subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	explorer.emitState(adapter.StateEvent{Type: adapter.EventTest, RunID: "r1", TestID: "t1", State: types.TestStateFailed, Message: "boom"})
	msg := readEvent(t, conn)
	assert.Equal(t, KindState, msg["kind"])
	event, ok := msg["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t1", event["test"])
	assert.Equal(t, "failed", event["state"])
	assert.Equal(t, "boom", event["message"])

	explorer.Load(context.Background())
	msg = readEvent(t, conn)
	assert.Equal(t, KindTests, msg["kind"])

	// Closing the client drops its subscriptions.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return explorer.subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStream_SlowClientIsDropped(t *testing.T) {
	stream := &eventStream{
		out:  make(chan EventMessage, 1),
		done: make(chan struct{}),
		log:  log.NewLogger(log.DiscardHandler()),
	}
	stream.push(EventMessage{Kind: KindAutorun})
	stream.push(EventMessage{Kind: KindAutorun})

	select {
	case <-stream.done:
	default:
		t.Fatal("stream should be closed once its buffer overflows")
	}
	// Pushing to a closed stream never blocks.
	stream.push(EventMessage{Kind: KindAutorun})
}

func TestHealthz(t *testing.T) {
	var healthErr error
	h := &HealthzServer{
		Check: func() error { return healthErr },
		Log:   log.NewLogger(log.DiscardHandler()),
	}

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	healthErr = errors.New("not connected to runner")
	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")
}

func TestService_StartAndShutdown(t *testing.T) {
	svc := New(Config{
		HealthzAddr: "127.0.0.1:0",
		APIAddr:     "127.0.0.1:0",
		Metrics:     opmetrics.CLIConfig{Enabled: true, ListenAddr: "127.0.0.1", ListenPort: 0},
		Explorer:    newFakeExplorer(),
		Log:         log.NewLogger(log.DiscardHandler()),
	})
	require.NotNil(t, svc.Healthz)
	require.NotNil(t, svc.Metrics)
	require.NotNil(t, svc.API)
	require.NoError(t, svc.Start(context.Background()))

	get := func(url string) (int, string) {
		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get(fmt.Sprintf("http://%s/healthz", svc.Healthz.Addr()))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, _ = get(fmt.Sprintf("http://%s/metrics", svc.Metrics.Addr()))
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(fmt.Sprintf("http://%s/tree", svc.API.Addr()))
	assert.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
}

func TestService_DisabledServers(t *testing.T) {
	svc := New(Config{Log: log.NewLogger(log.DiscardHandler())})
	assert.Nil(t, svc.Healthz)
	assert.Nil(t, svc.Metrics)
	assert.Nil(t, svc.API)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Shutdown(context.Background()))
}
