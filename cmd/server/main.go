package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimiro1/banner"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/host"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/resilience"
	"github.com/lexiqai/speech-bridge/internal/transport"
)

const (
	serviceName   = "speech-bridge"
	probeInterval = 10 * time.Second
)

func printBanner() {
	version := config.GetEnv("SPEECH_BRIDGE_VERSION", "dev")
	tpl := "{{ .Title \"speech-bridge\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	store := config.NewStore(cfg, config.Load)

	printBanner()

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("server_url", cfg.ServerURL).
		Bool("return_json", cfg.ReturnJSON).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech bridge starting")

	// One dialer for every session so the breaker sees all handshakes
	breaker := resilience.NewCircuitBreaker(
		"transcription-backend",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	dialer := transport.NewWSDialer(cfg.ConnectTimeout(), breaker)

	backendCheck := func(ctx context.Context) (bool, error) {
		return transport.Probe(ctx, dialer, store.Current().ServerURL)
	}
	checks := map[string]observability.HealthCheckFunc{"backend": backendCheck}

	// Create HTTP server
	mux := http.NewServeMux()

	// Media host WebSocket endpoint
	mux.HandleFunc("/asr", host.Handler(store, dialer))

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/asr", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// gRPC health service for orchestrators that probe over gRPC
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		logger.Fatal().Err(err).Str("grpc_port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
	}
	go func() {
		logger.Info().Str("grpc_port", cfg.GRPCPort).Msg("gRPC health service listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	probeCtx, stopProbe := context.WithCancel(context.Background())
	go watchBackend(probeCtx, healthServer, checks)

	// Reload on SIGHUP, shut down on SIGINT/SIGTERM
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-sighup:
			if !store.Current().AutoReload {
				logger.Info().Msg("Reload requested but AUTO_RELOAD is off")
				continue
			}
			reloaded, err := store.Reload()
			if err != nil {
				logger.Error().Err(err).Msg("Reload failed, keeping previous configuration")
				continue
			}
			observability.SetLevel(reloaded.LogLevel)
			logger.Info().Str("server_url", reloaded.ServerURL).Msg("Configuration reloaded")
		case <-quit:
			running = false
		}
	}

	logger.Info().Msg("Shutting down server...")
	stopProbe()
	healthServer.Shutdown()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// watchBackend mirrors backend reachability into the gRPC health service
func watchBackend(ctx context.Context, healthServer *health.Server, checks map[string]observability.HealthCheckFunc) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, healthy := observability.CheckDependencies(checkCtx, checks)
		cancel()

		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if healthy {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		healthServer.SetServingStatus("", status)
		healthServer.SetServingStatus(serviceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
