package probe

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	scouterrors "github.com/vinayprograms/scoutkit/errors"
)

// GRPCProber probes the local oracle control plane with the standard gRPC
// health checking protocol.
type GRPCProber struct {
	target  string
	service string
	timeout time.Duration
	opts    []grpc.DialOption
}

// GRPCConfig configures a GRPCProber.
type GRPCConfig struct {
	// Target is a gRPC target such as "unix:///tmp/shard-control.sock".
	Target string

	// Service is the health service name; empty checks the whole server.
	Service string

	// Timeout bounds the probe. Default: 2 seconds.
	Timeout time.Duration

	// DialOptions are appended after insecure transport credentials.
	DialOptions []grpc.DialOption
}

// NewGRPCProber creates a gRPC health prober.
func NewGRPCProber(cfg GRPCConfig) *GRPCProber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, cfg.DialOptions...)

	return &GRPCProber{
		target:  cfg.Target,
		service: cfg.Service,
		timeout: cfg.Timeout,
		opts:    opts,
	}
}

// Name implements Prober.
func (p *GRPCProber) Name() string {
	return "grpc"
}

// Probe reports available iff the health service answers SERVING.
func (p *GRPCProber) Probe(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := grpc.NewClient(p.target, p.opts...)
	if err != nil {
		return Result{}, scouterrors.WrapWithCode(err, scouterrors.ErrCodeInvalidInput, "create grpc client")
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.NotFound, codes.Unimplemented:
			return Result{Detail: fmt.Sprintf("control plane %s", status.Code(err))}, nil
		}
		return Result{}, scouterrors.WrapWithCode(err, scouterrors.ErrCodeProbeFailed, "grpc health check")
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Result{Detail: fmt.Sprintf("control plane %s", resp.GetStatus())}, nil
	}
	return Result{Available: true}, nil
}
