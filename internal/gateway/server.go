package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openraccoon/raccoon/internal/config"
	"github.com/openraccoon/raccoon/internal/observability"
)

// Server hosts the gRPC services plus a plain-HTTP mux serving /metrics
// and /healthz on the metrics port.
type Server struct {
	cfg     *config.Config
	grpc    *grpc.Server
	health  *health.Server
	metrics *http.Server
	logger  *observability.Logger
}

// NewServer builds the gRPC server and registers the agent service, the
// sandbox service, health, and reflection.
func NewServer(cfg *config.Config, agentSvc AgentServiceServer, sandboxSvc SandboxServiceServer, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageSize),
		grpc.NumStreamWorkers(uint32(cfg.Server.MaxWorkers)),
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			loggingStreamInterceptor(logger),
		),
	)
	RegisterAgentServiceServer(grpcServer, agentSvc)
	RegisterSandboxServiceServer(grpcServer, sandboxSvc)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("raccoon", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		cfg:     cfg,
		grpc:    grpcServer,
		health:  healthServer,
		metrics: metricsServer,
		logger:  logger,
	}
}

// Start begins serving and blocks until the gRPC listener stops.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	go func() {
		s.logger.Info(ctx, "metrics server listening", "addr", s.metrics.Addr)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "gRPC server listening", "addr", addr)
	return s.grpc.Serve(lis)
}

// Stop drains in-flight RPCs and shuts both servers down.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info(ctx, "stopping server")
	s.health.Shutdown()
	s.grpc.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.metrics.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "metrics server shutdown", "error", err)
	}
}

// loggingUnaryInterceptor logs unary RPC calls and their failures.
func loggingUnaryInterceptor(logger *observability.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger.Debug(ctx, "rpc call", "method", info.FullMethod)
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Error(ctx, "rpc error", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

// loggingStreamInterceptor logs streaming RPC lifecycles.
func loggingStreamInterceptor(logger *observability.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		logger.Debug(ctx, "stream started", "method", info.FullMethod)
		err := handler(srv, ss)
		if err != nil {
			logger.Error(ctx, "stream error", "method", info.FullMethod, "error", err)
		}
		logger.Debug(ctx, "stream ended", "method", info.FullMethod)
		return err
	}
}
