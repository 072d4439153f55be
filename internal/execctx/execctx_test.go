package execctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/factory"
	"github.com/vk/fedgridgo/internal/intrinsics"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
	"github.com/zclconf/go-cty/cty"
)

func newContext(t *testing.T) *ExecutionContext {
	t.Helper()
	f, err := factory.NewLocalFactory(factory.Config{DefaultNumClients: 3, Workers: 2})
	require.NoError(t, err)
	e, err := New(f)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestExecute(t *testing.T) {
	e := newContext(t)

	out, err := e.Execute(context.Background(),
		computation.Computation{Intrinsic: intrinsics.FederatedSum},
		value.AtClients([]cty.Value{cty.NumberIntVal(4), cty.NumberIntVal(5), cty.NumberIntVal(6)}),
		placement.Cardinalities{placement.Clients: 3})
	require.NoError(t, err)
	payload, err := out.Single()
	require.NoError(t, err)
	assert.True(t, payload.RawEquals(cty.NumberIntVal(15)))
}

func TestExecuteAfterClose(t *testing.T) {
	e := newContext(t)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	_, err := e.Execute(context.Background(),
		computation.Computation{Intrinsic: intrinsics.FederatedSum},
		value.AtClients(nil), placement.Cardinalities{})
	assert.ErrorContains(t, err, "closed")
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestDefaultLifecycle(t *testing.T) {
	require.Nil(t, Default())

	e := newContext(t)
	teardown := SetDefault(e)
	assert.Same(t, e, Default())

	require.NoError(t, teardown(context.Background()))
	assert.Nil(t, Default())

	// The teardown hook closed the context.
	_, err := e.Execute(context.Background(),
		computation.Computation{Intrinsic: intrinsics.FederatedSum},
		value.AtClients(nil), placement.Cardinalities{})
	assert.ErrorContains(t, err, "closed")
}
