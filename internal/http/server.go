package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/route-beacon/bgp-sessiond/internal/session"
	"go.uber.org/zap"
)

// JournalChecker abstracts the event journal health check for
// testability. Nil means no journal is configured.
type JournalChecker interface {
	Ping(ctx context.Context) error
}

// SessionLister exposes the Routing Engine's sessions for the status
// endpoint.
type SessionLister interface {
	Sessions() []*session.Session
}

type Server struct {
	srv      *http.Server
	journal  JournalChecker
	sessions SessionLister
	logger   *zap.Logger
}

func NewServer(addr string, journal JournalChecker, sessions SessionLister, logger *zap.Logger) *Server {
	s := &Server{
		journal:  journal,
		sessions: sessions,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	// Check the event journal, when one is configured.
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.journal.Ping(ctx); err != nil {
			checks["journal"] = "error"
			allOK = false
		} else {
			checks["journal"] = "ok"
		}
	} else {
		checks["journal"] = "disabled"
	}

	if s.sessions != nil {
		checks["sessions"] = "ok"
	} else {
		checks["sessions"] = "error"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// sessionStatus is one row of the /sessions response.
type sessionStatus struct {
	Peer       string        `json:"peer"`
	State      string        `json:"state"`
	Families   string        `json:"families"`
	HoldTime   int64         `json:"hold_time_seconds"`
	Keepalive  int64         `json:"keepalive_seconds"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
	Stats      session.Stats `json:"stats"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	var out []sessionStatus
	for _, sess := range s.sessions.Sessions() {
		p := sess.Peer()
		hold, keepalive, _, _, _ := sess.Negotiated()
		_, remote := sess.Addresses()

		row := sessionStatus{
			Peer:      p.Config.Address.String(),
			State:     sess.State().String(),
			Families:  p.Config.Active.String(),
			HoldTime:  int64(hold / time.Second),
			Keepalive: int64(keepalive / time.Second),
			Stats:     sess.Stats(),
		}
		if remote.IsValid() {
			row.RemoteAddr = remote.String()
		}
		out = append(out, row)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
