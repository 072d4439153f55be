// Package config loads and validates the deployment configuration from
// HCL. Every field has a default matching the fixed deployment snapshot
// (3 simulated clients, 10 workers, port 30000, insecure), so a missing
// config file yields a runnable model.
package config

import (
	"fmt"
	"time"

	"github.com/vk/fedgridgo/internal/factory"
)

// Backpressure selects what the server does when concurrent requests
// exceed the worker slots.
type Backpressure string

const (
	// BackpressureBlock queues the request until a worker slot frees, or
	// the request's context expires.
	BackpressureBlock Backpressure = "block"
	// BackpressureReject fails the request immediately with an
	// overloaded error response.
	BackpressureReject Backpressure = "reject"
)

// Server configures the network front-end.
type Server struct {
	Port         int    `hcl:"port,optional"`
	MaxWorkers   int    `hcl:"max_workers,optional"`
	Backpressure string `hcl:"backpressure,optional"`
	GracePeriod  string `hcl:"grace_period,optional"`

	// TLSCert and TLSKey enable TLS when both are set; empty means an
	// insecure listener.
	TLSCert string `hcl:"tls_cert,optional"`
	TLSKey  string `hcl:"tls_key,optional"`
}

// Executor configures the executor factory.
type Executor struct {
	DefaultNumClients *int   `hcl:"default_num_clients,optional"`
	FactoryKind       string `hcl:"factory_kind,optional"`
	Reuse             string `hcl:"reuse,optional"`
	FanoutWorkers     int    `hcl:"fanout_workers,optional"`
}

// Model is the unified configuration an App composes from.
type Model struct {
	Server   *Server   `hcl:"server,block"`
	Executor *Executor `hcl:"executor,block"`

	grace time.Duration
}

// Default returns the deployment-snapshot configuration.
func Default() *Model {
	clients := 3
	return &Model{
		Server: &Server{
			Port:         30000,
			MaxWorkers:   10,
			Backpressure: string(BackpressureBlock),
			GracePeriod:  "10s",
		},
		Executor: &Executor{
			DefaultNumClients: &clients,
			FactoryKind:       string(factory.KindStandard),
			Reuse:             string(factory.ReuseShare),
			FanoutWorkers:     10,
		},
	}
}

// GracePeriod returns the parsed shutdown grace period.
func (m *Model) GracePeriod() time.Duration {
	return m.grace
}

// DefaultNumClients returns the configured default clients cardinality.
func (m *Model) DefaultNumClients() int {
	return *m.Executor.DefaultNumClients
}

// FactoryConfig maps the model onto the factory's configuration.
func (m *Model) FactoryConfig() factory.Config {
	return factory.Config{
		DefaultNumClients: m.DefaultNumClients(),
		Workers:           m.Executor.FanoutWorkers,
		Reuse:             factory.ReusePolicy(m.Executor.Reuse),
	}
}

// validate checks the merged model before anything is constructed from
// it.
func (m *Model) validate() error {
	s, e := m.Server, m.Executor
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", s.Port)
	}
	if s.MaxWorkers < 1 {
		return fmt.Errorf("server.max_workers must be >= 1, got %d", s.MaxWorkers)
	}
	switch Backpressure(s.Backpressure) {
	case BackpressureBlock, BackpressureReject:
	default:
		return fmt.Errorf("server.backpressure must be %q or %q, got %q", BackpressureBlock, BackpressureReject, s.Backpressure)
	}
	grace, err := time.ParseDuration(s.GracePeriod)
	if err != nil {
		return fmt.Errorf("server.grace_period: %w", err)
	}
	if grace < 0 {
		return fmt.Errorf("server.grace_period must not be negative, got %s", grace)
	}
	m.grace = grace
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}

	if e.DefaultNumClients == nil || *e.DefaultNumClients < 0 {
		return fmt.Errorf("executor.default_num_clients must be >= 0")
	}
	switch factory.Kind(e.FactoryKind) {
	case factory.KindStandard, factory.KindSizing:
	default:
		return fmt.Errorf("executor.factory_kind must be %q or %q, got %q", factory.KindStandard, factory.KindSizing, e.FactoryKind)
	}
	switch factory.ReusePolicy(e.Reuse) {
	case factory.ReuseShare, factory.ReuseFresh:
	default:
		return fmt.Errorf("executor.reuse must be %q or %q, got %q", factory.ReuseShare, factory.ReuseFresh, e.Reuse)
	}
	if e.FanoutWorkers < 1 {
		return fmt.Errorf("executor.fanout_workers must be >= 1, got %d", e.FanoutWorkers)
	}
	return nil
}
