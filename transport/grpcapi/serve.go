package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Daemon is a gRPC server hosting the KEL service and the standard health
// service.
type Daemon struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewDaemon builds the server around srv. Calls are traced through the
// globally registered tracer provider.
func NewDaemon(srv KELServer, opts ...grpc.ServerOption) *Daemon {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	g := grpc.NewServer(opts...)
	h := health.NewServer()
	RegisterKELServer(g, srv)
	grpc_health_v1.RegisterHealthServer(g, h)
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return &Daemon{grpc: g, health: h}
}

// Serve runs until ctx is cancelled or the listener fails.
func (d *Daemon) Serve(ctx context.Context, lis net.Listener) error {
	logger.Infof("kel service listening on %s", lis.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		d.health.Shutdown()
		d.grpc.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Stop closes the server immediately.
func (d *Daemon) Stop() {
	d.health.Shutdown()
	d.grpc.Stop()
}
