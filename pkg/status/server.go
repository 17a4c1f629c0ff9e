// Package status serves the bridge status, known mesh paths and
// Prometheus metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/VetheonGames/meshtun/pkg/bridge"
	"github.com/VetheonGames/meshtun/pkg/mesh"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reporter reports the state of a running bridge.
type Reporter interface {
	Status() bridge.Status
}

// PathSource lists known paths to mesh destinations. *mesh.Endpoint
// satisfies it.
type PathSource interface {
	Paths() []mesh.PathEntry
}

// Server is the status HTTP server.
type Server struct {
	reporter Reporter
	paths    PathSource
	gatherer prometheus.Gatherer
	router   *mux.Router
	srv      *http.Server
}

// NewServer creates a status server. paths may be nil.
func NewServer(reporter Reporter, paths PathSource, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		reporter: reporter,
		paths:    paths,
		gatherer: gatherer,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ping", s.handlePing).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/paths", s.handlePaths).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("Serving status on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Status server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.reporter.Status())
}

type pathResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Name        string    `json:"name"`
	Peer        string    `json:"peer"`
	Addrs       []string  `json:"addrs"`
	LastSeen    time.Time `json:"last_seen"`
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	paths := []pathResponse{}
	if s.paths != nil {
		for _, p := range s.paths.Paths() {
			resp := pathResponse{
				Fingerprint: p.Fingerprint.String(),
				Name:        p.Name.String(),
				Peer:        p.Peer.String(),
				Addrs:       []string{},
				LastSeen:    p.LastSeen,
			}
			for _, a := range p.Addrs {
				resp.Addrs = append(resp.Addrs, a.String())
			}
			paths = append(paths, resp)
		}
	}
	writeJSON(w, paths)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Failed to write response: %v", err)
	}
}
