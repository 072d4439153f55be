package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fedgridgo/internal/factory"
)

func TestDefaultsMatchDeploymentSnapshot(t *testing.T) {
	m, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 30000, m.Server.Port)
	assert.Equal(t, 10, m.Server.MaxWorkers)
	assert.Equal(t, string(BackpressureBlock), m.Server.Backpressure)
	assert.Empty(t, m.Server.TLSCert)
	assert.Equal(t, 3, m.DefaultNumClients())
	assert.Equal(t, 10*time.Second, m.GracePeriod())

	fc := m.FactoryConfig()
	assert.Equal(t, 3, fc.DefaultNumClients)
	assert.Equal(t, factory.ReuseShare, fc.Reuse)
}

func TestLoadOverrides(t *testing.T) {
	m, err := LoadBytes([]byte(`
		server {
			port         = 8080
			max_workers  = 2
			backpressure = "reject"
			grace_period = "1s"
		}

		executor {
			default_num_clients = 0
			factory_kind        = "sizing"
			reuse               = "fresh"
			fanout_workers      = 4
		}
	`))
	require.NoError(t, err)

	assert.Equal(t, 8080, m.Server.Port)
	assert.Equal(t, 2, m.Server.MaxWorkers)
	assert.Equal(t, string(BackpressureReject), m.Server.Backpressure)
	assert.Equal(t, time.Second, m.GracePeriod())
	assert.Equal(t, 0, m.DefaultNumClients())
	assert.Equal(t, string(factory.KindSizing), m.Executor.FactoryKind)
	assert.Equal(t, factory.ReuseFresh, m.FactoryConfig().Reuse)
}

func TestPartialOverrideKeepsDefaults(t *testing.T) {
	m, err := LoadBytes([]byte(`
		server {
			port = 9000
		}
	`))
	require.NoError(t, err)
	assert.Equal(t, 9000, m.Server.Port)
	assert.Equal(t, 10, m.Server.MaxWorkers)
	assert.Equal(t, 3, m.DefaultNumClients())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
		executor {
			default_num_clients = 7
		}
	`), 0o600))

	m, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 7, m.DefaultNumClients())

	_, err = Load(context.Background(), filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		hcl  string
		want string
	}{
		{"bad backpressure", `server { backpressure = "drop" }`, "backpressure"},
		{"bad port", `server { port = 70000 }`, "port"},
		{"bad grace period", `server { grace_period = "soon" }`, "grace_period"},
		{"tls cert without key", `server { tls_cert = "cert.pem" }`, "set together"},
		{"negative clients", `executor { default_num_clients = -1 }`, "default_num_clients"},
		{"bad kind", `executor { factory_kind = "psychic" }`, "factory_kind"},
		{"bad reuse", `executor { reuse = "maybe" }`, "reuse"},
		{"bad workers", `executor { fanout_workers = -2 }`, "fanout_workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tc.hcl))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}

	t.Run("invalid hcl is rejected", func(t *testing.T) {
		_, err := LoadBytes([]byte(`server {`))
		assert.Error(t, err)
	})
}
