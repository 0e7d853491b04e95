package worktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *PortRegistry {
	return &PortRegistry{path: "/tmp/unused-wt-ports.json", Allocations: map[string]uint16{}}
}

func TestAllocatePort(t *testing.T) {
	r := newRegistry()
	port, err := r.Allocate("feature-a", 3000, 3010)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), port)
	got, ok := r.Get("feature-a")
	assert.True(t, ok)
	assert.Equal(t, uint16(3000), got)
}

func TestAllocateMultiplePorts(t *testing.T) {
	r := newRegistry()
	p1, err := r.Allocate("feature-a", 3000, 3010)
	require.NoError(t, err)
	p2, err := r.Allocate("feature-b", 3000, 3010)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), p1)
	assert.Equal(t, uint16(3001), p2)
}

func TestAllocateDuplicateBranchFails(t *testing.T) {
	r := newRegistry()
	_, err := r.Allocate("feature-a", 3000, 3010)
	require.NoError(t, err)
	_, err = r.Allocate("feature-a", 3000, 3010)
	assert.ErrorContains(t, err, "already has port")
}

func TestAllocateRangeExhausted(t *testing.T) {
	r := newRegistry()
	_, err := r.Allocate("feature-a", 3000, 3001)
	require.NoError(t, err)
	_, err = r.Allocate("feature-b", 3000, 3001)
	require.NoError(t, err)
	_, err = r.Allocate("feature-c", 3000, 3001)
	assert.ErrorContains(t, err, "no free ports")
}

func TestFreePort(t *testing.T) {
	r := newRegistry()
	_, err := r.Allocate("feature-a", 3000, 3010)
	require.NoError(t, err)
	freed, err := r.Free("feature-a")
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), freed)
	_, ok := r.Get("feature-a")
	assert.False(t, ok)
}

func TestFreeNonexistentBranchFails(t *testing.T) {
	r := newRegistry()
	_, err := r.Free("nonexistent")
	assert.ErrorContains(t, err, "no port allocated")
}

func TestListPorts(t *testing.T) {
	r := newRegistry()
	_, err := r.Allocate("feature-a", 3000, 3010)
	require.NoError(t, err)
	_, err = r.Allocate("feature-b", 3000, 3010)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "feature-a", list[0].Branch)
	assert.Equal(t, "feature-b", list[1].Branch)
}

func TestReuseFreedPort(t *testing.T) {
	r := newRegistry()
	_, err := r.Allocate("feature-a", 3000, 3010)
	require.NoError(t, err)
	_, err = r.Free("feature-a")
	require.NoError(t, err)
	port, err := r.Allocate("feature-b", 3000, 3010)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), port)
}

func TestSinglePortRangeSecondAllocationFails(t *testing.T) {
	r := newRegistry()
	port, err := r.Allocate("feature-a", 3000, 3000)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), port)
	_, err = r.Allocate("feature-b", 3000, 3000)
	assert.Error(t, err)
}
