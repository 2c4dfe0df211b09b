package httpinterface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
)

// ServiceOpts groups the parameters needed for creating an admin Service.
type ServiceOpts struct {
	Addr    string
	Wallet  ports.WalletService
	Auth    *Authenticator // nil disables bearer auth
	Version string
	Commit  string
	// OnStop is invoked after a POST /v1/stop request has been answered.
	OnStop func()
}

// Service is the admin HTTP interface of the daemon: version and balance
// inspection, a stop hook, and the prometheus metrics endpoint.
type Service struct {
	opts   ServiceOpts
	server *http.Server
}

func NewService(opts ServiceOpts) *Service {
	s := &Service{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/version", s.authorized(s.handleVersion))
	mux.HandleFunc("/v1/balance", s.authorized(s.handleBalance))
	mux.HandleFunc("/v1/stop", s.authorized(s.handleStop))
	mux.Handle("/metrics", promhttp.Handler())
	s.server = &http.Server{Addr: opts.Addr, Handler: mux}
	return s
}

func (s *Service) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Errorf("admin interface on %s", s.opts.Addr)
		}
	}()
	log.Infof("admin interface listening on %s", s.opts.Addr)
}

func (s *Service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

func (s *Service) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Auth != nil {
			if err := s.opts.Auth.Authorize(r); err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
		}
		next(w, r)
	}
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	writeJSON(w, map[string]string{
		"version": s.opts.Version,
		"commit":  s.opts.Commit,
	})
}

func (s *Service) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	balance, err := s.opts.Wallet.Balance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]uint64{"balance": balance})
}

func (s *Service) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	writeJSON(w, map[string]string{"status": "stopping"})
	if s.opts.OnStop != nil {
		go s.opts.OnStop()
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
