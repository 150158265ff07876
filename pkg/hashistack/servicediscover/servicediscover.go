package servicediscover

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"propdesk-affiliate/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP API in Consul when CONSUL.ADDR is set.
var Module = fx.Module("servicediscover",
	fx.Invoke(registerConsul),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

// agent is the part of *api.Agent the registry needs.
type agent interface {
	ServiceRegisterOpts(service *api.AgentServiceRegistration, opts api.ServiceRegisterOpts) error
	ServiceDeregisterOpts(serviceID string, q *api.QueryOptions) error
}

type ConsulRegistry struct {
	agent   agent
	service *api.AgentServiceRegistration
}

// NewRegistration describes the service with an HTTP readiness check and a
// gRPC health check, both polled by the local Consul agent.
func NewRegistration(cfg *config.Config, grpcService string) (*api.AgentServiceRegistration, error) {
	host := cfg.Consul.ServiceHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		host = h
	}

	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("HTTP_SERVER.ADDR must be a port: %w", err)
	}

	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", cfg.AppName, host, cfg.NodeID),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv, cfg.AppVersion},
		Checks: api.AgentServiceChecks{
			{
				Name:     "http readiness",
				HTTP:     fmt.Sprintf("http://%s/readyz", net.JoinHostPort(host, cfg.Server.Addr)),
				Interval: "10s",
				Timeout:  "5s",
			},
			{
				Name:     "grpc health",
				GRPC:     net.JoinHostPort(host, cfg.Grpc.Addr) + "/" + grpcService,
				Interval: "10s",
				Timeout:  "5s",
			},
		},
	}, nil
}

func NewConsulRegistry(address string, service *api.AgentServiceRegistration) (*ConsulRegistry, error) {
	c := api.DefaultConfig()
	c.Address = address

	client, err := api.NewClient(c)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{agent: client.Agent(), service: service}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.agent.ServiceRegisterOpts(r.service, api.ServiceRegisterOpts{}.WithContext(ctx))
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.agent.ServiceDeregisterOpts(r.service.ID, (&api.QueryOptions{}).WithContext(ctx))
}

type registerParams struct {
	fx.In
	Lifecycle   fx.Lifecycle
	Config      *config.Config
	GRPCService string `name:"grpc_health_service"`
}

func registerConsul(p registerParams) error {
	if p.Config.Consul.Addr == "" {
		return nil
	}

	service, err := NewRegistration(p.Config, p.GRPCService)
	if err != nil {
		return err
	}

	registry, err := NewConsulRegistry(p.Config.Consul.Addr, service)
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("service_id", service.ID), zap.String("consul", p.Config.Consul.Addr))
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				log.Error("[Consul] failed to register service", zap.Error(err))
				return err
			}
			log.Info("[Consul] service registered")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := registry.Deregister(ctx); err != nil {
				log.Warn("[Consul] failed to deregister service", zap.Error(err))
			}
			return nil
		},
	})
	return nil
}
