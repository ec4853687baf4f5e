// Package server exposes captured profiler frames to external consumers over
// HTTP: frame snapshots as JSON, a websocket stream of new frames, flame graph
// and pprof exports, and the Go runtime pprof handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the port the capture server binds by default.
const DefaultPort = 8585

// DefaultAddr returns the default listen address.
func DefaultAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", DefaultPort)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Source provides the frames the server publishes. *profiler.Recorder
// implements it.
type Source interface {
	Frames() []profiler.Frame
	Latest() (profiler.Frame, bool)
	Subscribe(buffer int) (<-chan profiler.Frame, func())
}

// Server is a running capture server.
type Server struct {
	src      Source
	logger   *logrus.Logger
	listener net.Listener
	http     *http.Server
	router   *httprouter.Router
	upgrader websocket.Upgrader
	started  time.Time

	done     chan struct{}
	stopOnce sync.Once
	streamMu sync.Mutex
	streams  sync.WaitGroup
}

// Start binds addr and serves in the background. A bind failure is returned
// synchronously.
func Start(addr string, src Source, logger *logrus.Logger) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("capture server failed: %w", err)
	}

	s := &Server{
		src:      src,
		logger:   logger,
		listener: ln,
		router:   httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("capture server stopped")
		}
	}()

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop closes open streams and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.streamMu.Lock()
		close(s.done)
		s.streamMu.Unlock()
		err = s.http.Shutdown(ctx)
		s.streams.Wait()
	})
	return err
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/frames", s.handleFrames)
	s.router.GET("/frames/latest", s.handleLatest)
	s.router.GET("/stream", s.handleStream)
	s.router.GET("/flamegraph.svg", s.handleFlamegraph)
	s.router.GET("/collapsed", s.handleCollapsed)
	s.router.GET("/profile", s.handleProfile)
	s.router.GET("/debug/pprof/*item", s.handlePprof)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "OK\n")
}

func (s *Server) handleFrames(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, s.src.Frames())
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	f, ok := s.src.Latest()
	if !ok {
		http.Error(w, "no finished frame yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, f)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("write response failed")
	}
}
