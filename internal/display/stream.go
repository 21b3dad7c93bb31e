package display

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"threshcam/internal/frame"
	"threshcam/internal/logger"
	"threshcam/internal/wire"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

type StreamConfig struct {
	Addr string
	// Every sends one frame out of every N rendered.
	Every int
	// Queue is the number of encoded frames buffered for the broadcaster.
	Queue int
}

// Stream broadcasts CBOR-encoded frames to websocket clients and serves
// health and stats endpoints.
type Stream struct {
	cfg      StreamConfig
	router   *mux.Router
	upgrader websocket.Upgrader
	server   *http.Server
	logger   logger.Logger
	statsFn  func() any

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex

	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	seen    uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewStream(cfg StreamConfig, statsFn func() any, log logger.Logger) *Stream {
	if log == nil {
		log = logger.Nop{}
	}
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 4
	}

	s := &Stream{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   log,
		statsFn:  statsFn,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		messages: make(chan []byte, cfg.Queue),
		done:     make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	s.router = r

	s.wg.Add(1)
	go s.broadcast()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Stream) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Stream) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Stream", "serving", map[string]interface{}{"addr": ln.Addr().String()})
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Stream", err, nil)
		}
	}()
	return nil
}

// Render encodes f and queues it for broadcast. When the queue is full the
// frame is dropped so a slow client never stalls the pipeline.
func (s *Stream) Render(f *frame.Frame) error {
	s.seen++
	if s.seen%uint64(s.cfg.Every) != 0 {
		return nil
	}
	if s.ClientCount() == 0 {
		return nil
	}

	payload, err := wire.Encode(f)
	if err != nil {
		return err
	}
	select {
	case s.messages <- payload:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *Stream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) Sent() uint64 {
	return s.sent.Load()
}

func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.server.Shutdown(ctx)
		}

		s.mu.Lock()
		for conn := range s.clients {
			_ = conn.Close()
			delete(s.clients, conn)
		}
		s.mu.Unlock()
	})
	return err
}

func (s *Stream) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Stream) handleStats(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"ws_clients":     s.ClientCount(),
		"frames_sent":    s.Sent(),
		"frames_dropped": s.Dropped(),
	}
	if s.statsFn != nil {
		payload["pipeline"] = s.statsFn()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Stream) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()

	s.logger.Debug("Stream", "client connected", map[string]interface{}{"remote": r.RemoteAddr})

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)

		// Clients only send control frames; reading drives the pong handler.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Stream) broadcast() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.messages:
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := writeMessage(conn, writeMu, websocket.BinaryMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
			s.sent.Add(1)
		}
	}
}

func (s *Stream) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
