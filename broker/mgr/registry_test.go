package mgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationRegistryPutLookupRemove(t *testing.T) {
	r := NewApplicationRegistry()
	m, _ := newTestApplicationMgr(t, nil)

	r.Put(m)

	got, ok := r.Lookup(m.Key())
	require.True(t, ok)
	assert.Same(t, m, got)

	assert.ElementsMatch(t, []string{m.Key()}, r.Keys())

	removed, ok := r.Remove(m.Key())
	require.True(t, ok)
	assert.Same(t, m, removed)

	_, ok = r.Lookup(m.Key())
	assert.False(t, ok)
}

func TestApplicationRegistryLookupMiss(t *testing.T) {
	r := NewApplicationRegistry()
	_, ok := r.Lookup("unit1.app1")
	assert.False(t, ok)
}

func TestNetworkRegistryPutLookupRemove(t *testing.T) {
	r := NewNetworkRegistry()
	m, _ := newTestNetworkMgr(t, NetworkOptions{UnitCode: "unit1", Code: "net1"}, nil, nil)

	r.Put(m)

	got, ok := r.Lookup(m.Key())
	require.True(t, ok)
	assert.Same(t, m, got)

	removed, ok := r.Remove(m.Key())
	require.True(t, ok)
	assert.Same(t, m, removed)

	_, ok = r.Lookup(m.Key())
	assert.False(t, ok)
}
