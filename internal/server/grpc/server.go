// Package grpcserver runs the operations gRPC port: standard health checking
// driven by dependency probes, plus reflection in development.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	cafehealth "github.com/and161185/cafe-backoffice/internal/health"
)

// ServiceName is the health service name reported for the whole backend.
const ServiceName = "cafe.backoffice"

// Ops is the ops gRPC server.
type Ops struct {
	srv    *grpc.Server
	health *health.Server
	checks cafehealth.Checks
	log    *zap.Logger
}

// NewOps builds the server with the logging and recovery interceptors.
func NewOps(checks cafehealth.Checks, log *zap.Logger, reflect bool, opts ...grpc.ServerOption) *Ops {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if reflect {
		reflection.Register(s)
	}
	o := &Ops{srv: s, health: hs, checks: checks, log: log}
	o.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return o
}

// Server exposes the underlying *grpc.Server for Serve and GracefulStop.
func (o *Ops) Server() *grpc.Server { return o.srv }

// Refresh runs every probe once and publishes the results.
// Each dependency is reported under its own name; ServiceName and "" are
// SERVING only when every dependency is.
func (o *Ops) Refresh(ctx context.Context) {
	rep := o.checks.Run(ctx, 2*time.Second)
	for name, res := range rep.Checks {
		st := healthpb.HealthCheckResponse_SERVING
		if res != "ok" {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			o.log.Warn("dependency not ready", zap.String("dependency", name))
		}
		o.health.SetServingStatus(name, st)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !rep.OK {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	o.health.SetServingStatus("", overall)
	o.health.SetServingStatus(ServiceName, overall)
}

// Watch refreshes health every interval until ctx is done, then marks everything NOT_SERVING.
func (o *Ops) Watch(ctx context.Context, interval time.Duration) {
	o.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			o.health.Shutdown()
			return
		case <-t.C:
			o.Refresh(ctx)
		}
	}
}

func (o *Ops) setAll(st healthpb.HealthCheckResponse_ServingStatus) {
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
	for _, n := range o.checks.Names() {
		o.health.SetServingStatus(n, st)
	}
}
