package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/liuran001/MusicPlayer-Go/core"
	"github.com/liuran001/MusicPlayer-Go/core/logger"
)

const defaultIntentTimeout = 30 * time.Second

// Options configures a Server.
type Options struct {
	Addr          string
	Player        Player
	Plugins       Plugins
	Pool          core.WorkerPool
	Logger        core.Logger
	IntentTimeout time.Duration
}

// Server bridges UI clients to the player and the plugin registry. Clients
// send intents over a websocket or plain HTTP and receive state changes as
// they happen.
type Server struct {
	opts     Options
	logger   core.Logger
	router   *mux.Router
	hub      *hub
	handlers map[string]handlerFunc
	upgrader websocket.Upgrader
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Run must be called to start forwarding events.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.IntentTimeout <= 0 {
		opts.IntentTimeout = defaultIntentTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		hub:      newHub(opts.Logger),
		handlers: make(map[string]handlerFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.Player != nil {
		for name, h := range playerIntents(opts.Player) {
			s.handlers[name] = h
		}
	}
	if opts.Plugins != nil {
		for name, h := range pluginIntents(opts.Plugins) {
			s.handlers[name] = h
		}
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/plugins", s.handlePlugins).Methods(http.MethodGet)
	router.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/intents/{intent}", s.handleIntent).Methods(http.MethodPost)
	s.router = router
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run forwards player and plugin events to connected clients until ctx is
// done or the server shuts down.
func (s *Server) Run(ctx context.Context) {
	if p := s.opts.Player; p != nil {
		sub := p.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer p.Unsubscribe(sub)
			forward(ctx, s.ctx, sub.Events(), func(ev any) {
				s.hub.broadcast(Message{Type: TypeEvent, Data: ev})
			})
		}()
	}
	if r := s.opts.Plugins; r != nil {
		sub := r.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer r.Unsubscribe(sub)
			forward(ctx, s.ctx, sub.Events(), func(ds any) {
				s.hub.broadcast(Message{Type: TypePlugins, Data: ds})
			})
		}()
	}
}

func forward[T any](ctx, serverCtx context.Context, events <-chan T, send func(any)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-serverCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			send(ev)
		}
	}
}

// ListenAndServe serves HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("ui bridge listening", "addr", s.opts.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, disconnects clients and waits for the
// forwarders.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.http.Shutdown(ctx)
	s.hub.shutdown()
	s.wg.Wait()
	return err
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.count()
}

// Dispatch runs one intent synchronously.
func (s *Server) Dispatch(ctx context.Context, req Request) (any, error) {
	h, ok := s.handlers[req.Intent]
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.Intent, ErrUnknownIntent)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.IntentTimeout)
	defer cancel()
	return h(ctx, req.Args)
}

// submit runs an intent on the worker pool and hands the reply to reply.
func (s *Server) submit(req Request, reply func(Message)) {
	task := func() {
		data, err := s.Dispatch(s.ctx, req)
		msg := Message{Type: TypeReply, ID: req.ID, OK: err == nil, Data: data}
		if err != nil {
			msg.Error = err.Error()
			s.logger.Debug("intent failed", "intent", req.Intent, "error", err)
		}
		reply(msg)
	}
	if s.opts.Pool == nil {
		go task()
		return
	}
	if err := s.opts.Pool.Submit(task); err != nil {
		reply(Message{Type: TypeReply, ID: req.ID, Error: err.Error()})
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := s.hub.add(conn)
	s.logger.Debug("ui client connected", "client", c.id)

	if s.opts.Player != nil {
		c.push(Message{Type: TypeSnapshot, Data: s.opts.Player.Snapshot()})
	}
	if s.opts.Plugins != nil {
		c.push(Message{Type: TypePlugins, Data: s.opts.Plugins.Delegates()})
	}

	go c.writePump()
	c.readPump(func(c *client, req Request) {
		s.submit(req, func(msg Message) { c.push(msg) })
	})
	s.logger.Debug("ui client disconnected", "client", c.id)
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if s.opts.Plugins == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Plugins.Delegates())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.opts.Player == nil {
		writeJSON(w, http.StatusNotFound, Message{Type: TypeReply, Error: "player not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Player.Snapshot())
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	req := Request{Intent: mux.Vars(r)["intent"]}
	if _, ok := s.handlers[req.Intent]; !ok {
		writeJSON(w, http.StatusNotFound, Message{Type: TypeReply, Error: fmt.Sprintf("%q: %v", req.Intent, ErrUnknownIntent)})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Message{Type: TypeReply, Error: err.Error()})
		return
	}
	if len(body) > 0 {
		req.Args = body
	}

	replies := make(chan Message, 1)
	s.submit(req, func(msg Message) { replies <- msg })
	var msg Message
	select {
	case msg = <-replies:
	case <-r.Context().Done():
		return
	}

	status := http.StatusOK
	if !msg.OK {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
