// Package server exposes the relaymeter HTTP surface: the traffic report
// ingestion endpoint, the node agent control channel, and health probes.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"relaymeter/internal/config"
	"relaymeter/internal/debughttp"
	"relaymeter/internal/flow"
	"relaymeter/internal/netutil"
	"relaymeter/internal/nodes"
	"relaymeter/internal/store/sqlite"
)

// Server ties the store, the agent hub, and the flow pipeline to the HTTP
// surface.
type Server struct {
	cfg   config.ServerConfig
	store *sqlite.Store
	hub   *nodes.Hub
	flow  *flow.Service
	log   *slog.Logger

	limiter *rateLimiter
}

// New assembles a Server from its collaborators.
func New(cfg config.ServerConfig, store *sqlite.Store, hub *nodes.Hub, flowSvc *flow.Service, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		flow:    flowSvc,
		log:     logger,
		limiter: newRateLimiter(),
	}
}

// Handler returns the HTTP mux for the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flow/upload", s.handleFlowUpload)
	mux.HandleFunc("/flow/test", s.handleFlowTest)
	mux.HandleFunc("/v1/nodes/ws", s.handleNodeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully. The janitor
// sweeping stale agent channels and idle rate buckets runs alongside.
func (s *Server) Run(ctx context.Context) error {
	if err := debughttp.Start(ctx, s.cfg.PprofAddr, s.log); err != nil {
		return fmt.Errorf("pprof server: %w", err)
	}
	go s.runJanitor(ctx)

	mux := s.Handler()
	errCh := make(chan error, 2)

	var servers []*http.Server
	switch s.cfg.TLSMode {
	case config.TLSModeOff:
		plain := &http.Server{
			Addr:              s.cfg.ListenHTTP,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, plain)
		go func() {
			s.log.Info("starting HTTP server", "addr", s.cfg.ListenHTTP)
			if err := plain.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()

	case config.TLSModeAuto:
		manager := &autocert.Manager{
			Cache:  autocert.DirCache(s.cfg.CertCacheDir),
			Prompt: autocert.AcceptTOS,
			HostPolicy: func(_ context.Context, host string) error {
				if netutil.NormalizeNodeAddress(host) == netutil.NormalizeNodeAddress(s.cfg.Domain) {
					return nil
				}
				return errors.New("host not allowed")
			},
		}
		httpsServer := &http.Server{
			Addr:              s.cfg.ListenHTTPS,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			TLSConfig:         manager.TLSConfig(),
		}
		challengeServer := &http.Server{
			Addr:              s.cfg.ListenHTTP,
			Handler:           manager.HTTPHandler(http.NotFoundHandler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, httpsServer, challengeServer)
		go func() {
			s.log.Info("starting ACME challenge server", "addr", s.cfg.ListenHTTP)
			if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("challenge server: %w", err)
			}
		}()
		go func() {
			s.log.Info("starting HTTPS server", "addr", s.cfg.ListenHTTPS)
			if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()

	case config.TLSModeStatic:
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		httpsServer := &http.Server{
			Addr:              s.cfg.ListenHTTPS,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			TLSConfig:         &tls.Config{Certificates: []tls.Certificate{cert}},
		}
		servers = append(servers, httpsServer)
		go func() {
			s.log.Info("starting HTTPS server", "addr", s.cfg.ListenHTTPS)
			if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()

	default:
		return fmt.Errorf("unknown tls mode %q", s.cfg.TLSMode)
	}

	select {
	case <-ctx.Done():
		var firstErr error
		for _, srv := range servers {
			if err := shutdownServer(srv, 5*time.Second); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case err := <-errCh:
		for _, srv := range servers {
			_ = shutdownServer(srv, 5*time.Second)
		}
		return err
	}
}

func (s *Server) runJanitor(ctx context.Context) {
	heartbeatTicker := time.NewTicker(s.cfg.HeartbeatInterval)
	bucketTicker := time.NewTicker(reportCleanupAge)
	defer heartbeatTicker.Stop()
	defer bucketTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			s.hub.ExpireStale(s.cfg.HeartbeatTimeout)
		case <-bucketTicker.C:
			s.limiter.cleanup(time.Now())
		}
	}
}

func shutdownServer(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
