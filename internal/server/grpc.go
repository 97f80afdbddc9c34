package server

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/ingestion"
	"OptionEscrow/internal/observability"
	"OptionEscrow/internal/query"
	"OptionEscrow/internal/token"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds everything the service needs. Queries and DB are nil
// when the daemon runs without Postgres; DevToken is nil unless the
// in-process collateral is used.
type ServerDeps struct {
	Registry      *core.Registry
	Dispatcher    *ingestion.Dispatcher
	Queries       *query.QueryService
	DB            *sql.DB
	Decimals      map[string]int32
	DevToken      *token.Token
	Custody       common.Address
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewService builds the EscrowServer implementation.
func NewService(deps *ServerDeps) EscrowServer {
	return &escrowService{
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		queries:    deps.Queries,
		db:         deps.DB,
		decimals:   deps.Decimals,
		devToken:   deps.DevToken,
		custody:    deps.Custody,
		logger:     deps.Logger,
	}
}

// NewGRPCServer creates the gRPC server with the escrow, health and
// reflection services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(errorInterceptor(deps.Metrics, deps.Logger)))
	grpcServer.RegisterService(&EscrowServiceDesc, NewService(deps))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// GRPC exposes the underlying server, e.g. for serving on a custom listener.
func (s *GRPCServer) GRPC() *grpc.Server { return s.grpcServer }

// errorInterceptor converts registry errors to statuses and records
// per-method request metrics.
func errorInterceptor(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil && errs.KindOf(err) == errs.KindUnknown && !errors.Is(err, core.ErrDuplicate) {
			logger.Warn().Str("method", info.FullMethod).Err(err).Msg("rpc failed")
		}
		err = ToStatus(err)

		code := status.Code(err)
		if metrics != nil {
			metrics.QueryRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
			metrics.QueryDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway, proxying to the gRPC
// address, until ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	client, err := NewClient(s.grpcAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	gw, err := NewGateway(client, s.healthChecker)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           gw,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Str("grpc", s.grpcAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
