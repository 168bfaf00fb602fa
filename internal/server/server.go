// Package server receives GitHub webhook deliveries over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/github"
)

// DispatchFunc handles one parsed event. It owns opening and closing the
// repository store.
type DispatchFunc func(ctx context.Context, ev *github.Event) error

type Options struct {
	// Secret validates X-Hub-Signature-256. Empty disables validation.
	Secret string
	// Repository, when set, rejects deliveries for any other repository.
	Repository string
	Logger     log.FieldLogger
}

type Server struct {
	dispatch DispatchFunc
	opts     Options
	log      log.FieldLogger
	httpSrv  *http.Server
	ln       net.Listener
	addr     string
	repoMu   sync.Map // per-repo mutex: owner/name → *sync.Mutex
}

func New(dispatch DispatchFunc, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	s := &Server{dispatch: dispatch, opts: opts, log: opts.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Listen binds the server to addr. Call Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve starts handling HTTP requests. Blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", s.addr).Info("Webhook receiver listening")
	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	s.log.Info("Webhook receiver stopped")
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}

// lockRepo returns the mutex for a repository. Callers must call Unlock when
// done. Holding it keeps the repository's store file owned by one delivery.
func (s *Server) lockRepo(name string) *sync.Mutex {
	v, _ := s.repoMu.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}
