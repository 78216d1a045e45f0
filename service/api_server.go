package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-test-explorer/adapter"
	"github.com/ethereum-optimism/infra/op-test-explorer/metrics"
	"github.com/ethereum-optimism/infra/op-test-explorer/types"
)

const (
	eventBufferSize   = 256
	wsWriteTimeout    = 10 * time.Second
	maxRequestBody    = 1 << 20
	readHeaderTimeout = 10 * time.Second
)

// Event kinds sent on the /events stream
const (
	KindTests   = "tests"
	KindState   = "state"
	KindAutorun = "autorun"
)

// Explorer is the adapter surface served over HTTP.
type Explorer interface {
	Load(ctx context.Context) adapter.TestsEvent
	Tree() *types.TestTreeNode
	Run(ctx context.Context, ids []string) error
	SubscribeTests(fn func(adapter.TestsEvent)) (unsubscribe func())
	SubscribeStates(fn func(adapter.StateEvent)) (unsubscribe func())
	SubscribeAutorun(fn func()) (unsubscribe func())
}

// EventMessage is one frame of the /events stream.
type EventMessage struct {
	Kind  string `json:"kind"`
	Event any    `json:"event,omitempty"`
}

type runRequest struct {
	IDs []string `json:"ids"`
}

type runResponse struct {
	Accepted []string `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// APIServer lets a UI load the tree, start runs and follow their progress.
type APIServer struct {
	explorer Explorer
	log      log.Logger
	upgrader websocket.Upgrader

	// runs started over HTTP outlive their request
	lifetime context.Context
	shutdown context.CancelFunc
	runs     sync.WaitGroup

	mu      sync.Mutex
	streams map[*eventStream]struct{}

	server   *http.Server
	listener net.Listener
}

// NewAPIServer creates an API server for explorer.
func NewAPIServer(explorer Explorer, logger log.Logger) *APIServer {
	lifetime, shutdown := context.WithCancel(context.Background())
	return &APIServer{
		explorer: explorer,
		log:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		lifetime: lifetime,
		shutdown: shutdown,
		streams:  make(map[*eventStream]struct{}),
	}
}

// Handler returns the routes of the API wrapped in a permissive CORS policy.
func (s *APIServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/load", s.handleLoad).Methods(http.MethodPost)
	r.HandleFunc("/tree", s.handleTree).Methods(http.MethodGet)
	r.HandleFunc("/tree/{id:.+}", s.handleNode).Methods(http.MethodGet)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Listen binds addr. Serve must be called afterwards.
func (s *APIServer) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// Serve blocks until the server is shut down.
func (s *APIServer) Serve() error {
	if err := s.server.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address.
func (s *APIServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting requests, closes event streams and waits for
// runs started over HTTP.
func (s *APIServer) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	s.mu.Lock()
	for stream := range s.streams {
		stream.close()
	}
	s.shutdown()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *APIServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	ev := s.explorer.Load(r.Context())
	s.writeJSON(w, http.StatusOK, ev)
}

func (s *APIServer) handleTree(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.explorer.Tree())
}

func (s *APIServer) handleNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	node := s.explorer.Tree().Find(id)
	if node == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("node %q not found", id)})
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

func (s *APIServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid run request: %v", err)})
		return
	}
	if len(req.IDs) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no node ids to run"})
		return
	}

	s.mu.Lock()
	if s.lifetime.Err() != nil {
		s.mu.Unlock()
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "server is shutting down"})
		return
	}
	s.runs.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.runs.Done()
		if err := s.explorer.Run(s.lifetime, req.IDs); err != nil {
			s.log.Warn("Run requested over API failed", "ids", req.IDs, "err", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, runResponse{Accepted: req.IDs})
}

func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade event stream", "err", err)
		metrics.RecordErrorDetails("ws_upgrade", err)
		return
	}
	stream := &eventStream{
		conn: conn,
		out:  make(chan EventMessage, eventBufferSize),
		done: make(chan struct{}),
		log:  s.log,
	}

	s.mu.Lock()
	s.streams[stream] = struct{}{}
	s.mu.Unlock()

	unsubscribers := []func(){
		s.explorer.SubscribeTests(func(ev adapter.TestsEvent) {
			stream.push(EventMessage{Kind: KindTests, Event: ev})
		}),
		s.explorer.SubscribeStates(func(ev adapter.StateEvent) {
			stream.push(EventMessage{Kind: KindState, Event: ev})
		}),
		s.explorer.SubscribeAutorun(func() {
			stream.push(EventMessage{Kind: KindAutorun})
		}),
	}
	s.log.Debug("Event stream opened", "remote", r.RemoteAddr)

	go stream.readLoop()
	stream.writeLoop()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	s.mu.Lock()
	delete(s.streams, stream)
	s.mu.Unlock()
	s.log.Debug("Event stream closed", "remote", r.RemoteAddr)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to write API response", "err", err)
	}
}

// eventStream forwards events to one websocket client. Events are pushed
// from observer callbacks and must never block them, so a client that falls
// behind is disconnected.
type eventStream struct {
	conn      *websocket.Conn
	out       chan EventMessage
	done      chan struct{}
	closeOnce sync.Once
	log       log.Logger
}

func (e *eventStream) push(msg EventMessage) {
	select {
	case <-e.done:
	case e.out <- msg:
	default:
		e.log.Warn("Event stream client too slow, disconnecting")
		e.close()
	}
}

func (e *eventStream) close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// readLoop discards client frames and notices when the client goes away.
func (e *eventStream) readLoop() {
	defer e.close()
	for {
		if _, _, err := e.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *eventStream) writeLoop() {
	defer e.conn.Close()
	for {
		select {
		case msg := <-e.out:
			_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := e.conn.WriteJSON(msg); err != nil {
				e.log.Debug("Failed to write event", "err", err)
				e.close()
				return
			}
		case <-e.done:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = e.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			return
		}
	}
}
