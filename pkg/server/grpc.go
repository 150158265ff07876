package server

import (
	"context"
	"fmt"
	"net"

	"propdesk-affiliate/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
)

// ProvideGRPCServer serves the grpc.health.v1 protocol used by load balancers
// and the Consul agent. Service modules register on *grpc.Server.
var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		NewGRPCServer,
	),
	fx.Invoke(
		StartGRPCServer,
	),
)

type GRPCServer struct {
	*grpc.Server
	certs *certReloader
}

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%s", cfg.Grpc.Addr))
}

// NewGRPCServer returns both the wrapper used for lifecycle and the plain
// *grpc.Server that services register on.
func NewGRPCServer(cfg *config.Config, tp trace.TracerProvider) (*GRPCServer, *grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(tp))),
	}

	var certs *certReloader
	if cfg.TLS.Enable {
		var err error
		certs, err = newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load TLS key pair: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(certs.tlsConfig())))
	}

	srv := grpc.NewServer(opts...)
	reflection.Register(srv)
	return &GRPCServer{Server: srv, certs: certs}, srv, nil
}

func StartGRPCServer(lc fx.Lifecycle, lis net.Listener, srv *GRPCServer) {
	watchCtx, stopWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if srv.certs != nil {
				go srv.certs.watch(watchCtx)
			}
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
				if err := srv.Serve(lis); err != nil {
					zap.L().Error("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopWatch()
			zap.L().Info("Stopping gRPC server")
			srv.GracefulStop()
			return nil
		},
	})
}
