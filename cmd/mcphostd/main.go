package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcphostlib/mcphost/bridge"
	"github.com/mcphostlib/mcphost/config"
	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
	"github.com/mcphostlib/mcphost/rpc"
	"github.com/mcphostlib/mcphost/session"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the host config file")
	flag.Parse()

	logger := newLogger()

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("mcphostd exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05.000",
	}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	engine := host.NewEngine(cfg.Host, host.WithLogger(logger), host.WithSamplingTimeout(cfg.SamplingTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := engine.Start(startCtx); err != nil {
		return fmt.Errorf("start host engine: %w", err)
	}

	sessions := session.NewManager(cfg.SessionTTL, engine.FailAllSampling, logger)
	defer sessions.Close()

	router := rpc.NewRouter(engine, sessions, cfg.Host.HostInfo, clientCapabilities(cfg.Host.HostCapabilities), logger)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	hub := bridge.NewHub(engine, sessions, logger)
	go hub.Run(hubCtx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newMux(hubCtx, engine, router, sessions, cfg, logger),
		ReadHeaderTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("mcphostd listening", slog.String("addr", httpServer.Addr))
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	hubCancel()

	stopErrCh := make(chan error, 1)
	go func() { stopErrCh <- engine.Stop(shutdownCtx) }()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown did not complete cleanly", slog.Any("err", err))
	}

	select {
	case err := <-stopErrCh:
		if err != nil {
			logger.Warn("host engine shutdown returned an error", slog.Any("err", err))
		}
	case <-shutdownCtx.Done():
		logger.Error("shutdown grace period expired, forcing exit")
		os.Exit(1)
	}

	return nil
}

func newMux(shutdown context.Context, engine host.API, router *rpc.Router, sessions *session.Manager, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(apiKeyAuth(cfg))

		r.Post(cfg.MCPPath, router.HandlePOST())
		r.Get(cfg.MCPPath, bridge.HandleSSE(shutdown, engine, sessions, logger))
		r.Delete(cfg.MCPPath, router.HandleDELETE())

		r.Get("/ws", bridge.HandleWS(shutdown, engine, sessions, logger))

		r.Post(cfg.MCPPath+"/sampling_response", bridge.HandleSamplingResponse(engine, sessions))
		r.Post(cfg.MCPPath+"/sampling_error", bridge.HandleSamplingError(engine, sessions))

		mountLegacyViews(r, engine)
	})

	return r
}

// apiKeyAuth enforces the X-API-Key header (or api_key query parameter, for clients that
// cannot set headers before a WebSocket upgrade) when the config requires it.
func apiKeyAuth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !cfg.AuthRequired {
				next.ServeHTTP(w, req)
				return
			}
			key := req.Header.Get("X-API-Key")
			if key == "" {
				key = req.URL.Query().Get("api_key")
			}
			if !validAPIKey(cfg.APIKeys, key) {
				http.Error(w, "invalid or missing api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// clientCapabilities translates the host's own configured capabilities into the
// protocol.ClientCapabilities object advertised in the initialize response: this host acts
// as the MCP client toward every server it aggregates.
func clientCapabilities(caps host.HostCapabilities) protocol.ClientCapabilities {
	out := protocol.ClientCapabilities{}
	if caps.RootsListChanged {
		out.Roots = &protocol.RootsCapability{ListChanged: true}
	}
	if caps.Sampling {
		out.Sampling = &protocol.SamplingCapability{}
	}
	return out
}

func validAPIKey(keys []string, key string) bool {
	if key == "" {
		return false
	}
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
