// Package dashboard serves the port snapshot and termination operations over
// HTTP, and pushes events to WebSocket clients.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/metrics"
	"github.com/jongio/portwarden/src/internal/portmanager"
	"github.com/jongio/portwarden/src/internal/ports"
	"github.com/jongio/portwarden/src/internal/terminate"
)

const (
	// ListenerName is the dashboard's key in the port assignment file.
	ListenerName = "portwarden-dashboard"
	// DefaultPort is tried first when no port is configured.
	DefaultPort = 47800
)

// Operations is what the dashboard exposes. *monitor.Service implements it.
type Operations interface {
	ListPorts(ctx context.Context, force bool) ([]ports.PortRecord, error)
	CloseProcess(ctx context.Context, pid string) (string, error)
	CloseSpecificPort(ctx context.Context, pid, port, protocol, localAddr string) (string, error)
	CanClosePortIndividually(protocol, localAddr string) bool
	ForceKill(ctx context.Context, pid string) (string, error)
	EmergencyKill(ctx context.Context, pid string) (string, error)
	RefreshNow(ctx context.Context, detailed bool) (string, error)
}

// Server is the dashboard HTTP server.
type Server struct {
	ops     Operations
	hub     *Hub
	metrics *metrics.Metrics
	mux     *http.ServeMux
	log     zerolog.Logger
}

// NewServer creates a server. m may be nil, in which case /metrics is not served.
func NewServer(ops Operations, hub *Hub, m *metrics.Metrics) *Server {
	s := &Server{
		ops:     ops,
		hub:     hub,
		metrics: m,
		mux:     http.NewServeMux(),
		log:     logging.Component("dashboard"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/ports", s.handleListPorts)
	s.mux.HandleFunc("POST /api/ports/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/ports/close", s.handleClosePort)
	s.mux.HandleFunc("GET /api/ports/can-close", s.handleCanClose)
	s.mux.HandleFunc("POST /api/processes/{pid}/close", s.processAction(Operations.CloseProcess))
	s.mux.HandleFunc("POST /api/processes/{pid}/force-kill", s.processAction(Operations.ForceKill))
	s.mux.HandleFunc("POST /api/processes/{pid}/emergency-kill", s.processAction(Operations.EmergencyKill))
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Listen binds addr. When addr has port 0 and pm is set, the persisted
// dashboard port is used if it is free.
func Listen(addr string, pm *portmanager.PortManager) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid dashboard address %q: %w", addr, err)
	}
	if port == "0" && pm != nil {
		previous, hadPrevious := pm.GetAssignment(ListenerName)
		if assigned, err := pm.AssignPort(ListenerName, DefaultPort); err == nil {
			if hadPrevious && previous != assigned {
				log := logging.Component("dashboard")
				log.Info().Int("previous", previous).Int("port", assigned).Msg("saved dashboard port is busy, moved")
			}
			if l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(assigned))); err == nil {
				return l, nil
			}
			// Lost a race for the port; an ephemeral one will do.
			_ = pm.ReleasePort(ListenerName)
		}
	}
	return net.Listen("tcp", addr)
}

// Serve serves on l until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.log.Info().Str("url", "http://"+l.Addr().String()).Msg("dashboard listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleListPorts(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	records, err := s.ops.ListPorts(r.Context(), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed"))
	msg, err := s.ops.RefreshNow(r.Context(), detailed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

type closePortRequest struct {
	PID          int    `json:"pid"`
	Port         int    `json:"port"`
	Protocol     string `json:"protocol"`
	LocalAddress string `json:"local_address"`
}

func (s *Server) handleClosePort(w http.ResponseWriter, r *http.Request) {
	var req closePortRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	msg, err := s.ops.CloseSpecificPort(r.Context(),
		strconv.Itoa(req.PID), strconv.Itoa(req.Port), req.Protocol, req.LocalAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleCanClose(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ok := s.ops.CanClosePortIndividually(q.Get("protocol"), q.Get("local_address"))
	writeJSON(w, http.StatusOK, map[string]bool{"can_close": ok})
}

func (s *Server) processAction(op func(Operations, context.Context, string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := op(s.ops, r.Context(), r.PathValue("pid"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	}
}

// handleWebSocket registers a client, sends it the current snapshot, then
// holds the connection open until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browsers on the dashboard's own origin, or local tools without one.
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	records, err := s.ops.ListPorts(ctx, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("initial snapshot unavailable")
		records = []ports.PortRecord{}
	}
	if err := write(conn, Message{Type: events.EventPortsData, Payload: records}); err != nil {
		return
	}

	s.hub.add(conn)
	defer s.hub.remove(conn)

	<-ctx.Done()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, terminate.ErrSystemProcessProtected):
		status = http.StatusForbidden
	case errors.Is(err, terminate.ErrUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, terminate.ErrAllMethodsExhausted):
		status = http.StatusConflict
	case ports.IsEnumerationError(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, terminate.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to encode response", "error", err)
	}
}
