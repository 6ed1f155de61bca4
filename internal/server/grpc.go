package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall ("") status
const ServiceName = "linkforwarding.v1.Forwarder"

// NewGRPCServer returns a server carrying the standard health service and reflection
func NewGRPCServer(opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	return server, hs
}

// WatchHealth pings the store every interval and publishes SERVING or
// NOT_SERVING until ctx is done, then marks everything NOT_SERVING.
func WatchHealth(ctx context.Context, hs *health.Server, pinger Pinger, interval time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := pinger.Ping(pctx); err != nil {
			log.Warn().Err(err).Msg("Store unreachable, reporting NOT_SERVING")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			check()
		}
	}
}
