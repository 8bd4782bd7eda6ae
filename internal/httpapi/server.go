// Package httpapi is the thin HTTP adapter described in spec §6: it routes
// one content-negotiated endpoint plus a static OpenAPI document, demo page
// and redirect, on top of the core's RingBuffer and SseHub.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"zbxrtx/internal/hub"
	"zbxrtx/internal/logging"
)

// Options configures a Server.
type Options struct {
	Ring   *hub.RingBuffer
	SseHub *hub.SseHub
	Logger *slog.Logger
}

// Server is the HTTP front end: content negotiation, snapshot queries, SSE
// registration, and the static demo/OpenAPI/redirect/404 routes (spec §6).
type Server struct {
	ring   *hub.RingBuffer
	sseHub *hub.SseHub
	logger *slog.Logger

	rl *rateLimiter

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	inFlight sync.WaitGroup
	draining atomic.Bool

	rlCancel context.CancelFunc
	rlWG     sync.WaitGroup
}

// New creates a Server. Call Serve to begin listening.
func New(opts Options) *Server {
	return &Server{
		ring:   opts.Ring,
		sseHub: opts.SseHub,
		logger: logging.Default(opts.Logger).With("component", "httpapi"),
		rl:     newRateLimiter(5, 10), // 5 new SSE registrations/s per IP, burst 10
	}
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events/zabbix/", s.handleEvents)
	mux.HandleFunc("/v1/events/zabbix/openapi.json", s.handleOpenAPI)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Handler returns the fully composed handler (middleware chain + mux),
// exposed for tests that drive the server via httptest without a real
// listener.
func (s *Server) Handler() http.Handler {
	mux := s.buildMux()
	return s.trackingMiddleware(compressMiddleware(rateLimitMiddleware(s.rl, s.isSseRegistration)(corsMiddleware(mux))))
}

// isSseRegistration reports whether r would register a new SSE client, the
// only route the rate limiter guards (spec SPEC_FULL.md domain-stack
// rationale: uncontrolled SSE registration is the one abuse vector an
// otherwise read-only fan-out service exposes).
func (s *Server) isSseRegistration(r *http.Request) bool {
	return r.URL.Path == "/v1/events/zabbix/" && wantsEventStream(r)
}

// trackingMiddleware rejects new requests while draining and tracks
// in-flight requests so Stop can wait for them to finish.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows only same-origin requests (plus loopback, for local
// dev proxies), matching the teacher's same-origin-only policy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isOriginAllowed(origin, r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func isOriginAllowed(origin string, r *http.Request) bool {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if origin == scheme+"://"+r.Host {
		return true
	}
	reqHost, _, _ := net.SplitHostPort(r.Host)
	if reqHost == "" {
		reqHost = r.Host
	}
	return isLoopback(reqHost)
}

// Serve starts the HTTP server on listener, serving h2c (HTTP/2 without
// TLS) so the demo page and SSE stream both benefit from multiplexing. It
// blocks until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	rlCtx, cancel := context.WithCancel(context.Background())
	s.rlCancel = cancel
	s.rl.startCleanup(rlCtx, &s.rlWG, 3*time.Minute, 5*time.Minute)

	s.server = &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("httpapi starting", "addr", listener.Addr().String())
	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests (including open SSE connections, which end
// when the caller closes the SseHub) then shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.rlCancel != nil {
		s.rlCancel()
		s.rlWG.Wait()
	}

	s.draining.Store(true)
	s.logger.Info("draining in-flight requests")
	waitDone := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
	}

	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	s.logger.Info("httpapi stopping")
	return server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, "/v1/events/zabbix/", http.StatusFound)
}
