package servicediscover

import (
	"context"
	"errors"
	"testing"

	"propdesk-affiliate/pkg/config"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/require"
)

type agentMock struct {
	registered   *api.AgentServiceRegistration
	deregistered string
	err          error
}

func (m *agentMock) ServiceRegisterOpts(service *api.AgentServiceRegistration, _ api.ServiceRegisterOpts) error {
	m.registered = service
	return m.err
}

func (m *agentMock) ServiceDeregisterOpts(serviceID string, _ *api.QueryOptions) error {
	m.deregistered = serviceID
	return m.err
}

func testConfig() *config.Config {
	cfg := &config.Config{AppName: "affiliate", AppEnv: "staging", NodeID: 3}
	cfg.Server.Addr = "8080"
	cfg.Grpc.Addr = "9090"
	cfg.Consul.ServiceHost = "10.0.0.5"
	return cfg
}

func TestNewRegistration(t *testing.T) {
	svc, err := NewRegistration(testConfig(), "propdesk.affiliate.v1")
	require.NoError(t, err)
	require.Equal(t, "affiliate-10.0.0.5-3", svc.ID)
	require.Equal(t, 8080, svc.Port)
	require.Len(t, svc.Checks, 2)
	require.Equal(t, "http://10.0.0.5:8080/readyz", svc.Checks[0].HTTP)
	require.Equal(t, "10.0.0.5:9090/propdesk.affiliate.v1", svc.Checks[1].GRPC)

	cfg := testConfig()
	cfg.Server.Addr = ":8080"
	_, err = NewRegistration(cfg, "x")
	require.Error(t, err)
}

func TestRegistryRoundTrip(t *testing.T) {
	svc, err := NewRegistration(testConfig(), "propdesk.affiliate.v1")
	require.NoError(t, err)

	m := &agentMock{}
	r := &ConsulRegistry{agent: m, service: svc}
	require.NoError(t, r.Register(context.Background()))
	require.Same(t, svc, m.registered)
	require.NoError(t, r.Deregister(context.Background()))
	require.Equal(t, svc.ID, m.deregistered)

	m.err = errors.New("agent unavailable")
	require.Error(t, r.Register(context.Background()))
}
