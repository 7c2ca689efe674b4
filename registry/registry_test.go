package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseRegistryRegisterGetRemove(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	require.Error(t, r.Register("a", 2), "duplicate name must be rejected")
	require.Error(t, r.Register("", 3), "empty name must be rejected")

	v, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.NoError(t, r.Remove("a"))
	require.Error(t, r.Remove("a"), "removing twice must fail")
	_, ok = r.Get("a")
	require.False(t, ok)
}

func TestBaseRegistryListAndNamesAreSorted(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("zeta", "z"))
	require.NoError(t, r.Register("alpha", "a"))
	require.NoError(t, r.Register("mid", "m"))

	require.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
	require.Equal(t, []string{"a", "m", "z"}, r.List())
	require.Equal(t, 3, r.Count())

	r.Clear()
	require.Equal(t, 0, r.Count())
	require.Empty(t, r.List())
}
