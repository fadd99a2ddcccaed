package pool

import (
	"testing"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, p1 := initPools(t, 4, nil)
	_, p2 := initPools(t, 4, nil)
	openPool(t, p1)

	h1 := r.Register(p1)
	h2 := r.Register(p2)
	if h1 == h2 {
		t.Fatalf("handles should differ")
	}
	assert.Equal(t, []Handle{h1, h2}, r.Handles())

	got, err := r.Get(h1)
	require.NoError(t, err)
	if got != p1 {
		t.Fatalf("Get should return the registered pool")
	}

	parsed, err := ParseHandle(h2.String())
	require.NoError(t, err)
	assert.Equal(t, h2, parsed)

	require.NoError(t, r.Remove(h1))
	if s := p1.GetState(); s != Closed {
		t.Fatalf("removed pool should be Closed, not %s", s)
	}
	if _, err := r.Get(h1); !common.IsPoolErr(err, common.PoolNotOpen) {
		t.Fatalf("Get of a removed handle should fail with PoolNotOpen, not %v", err)
	}
	if err := r.Remove(h1); err == nil {
		t.Fatalf("Remove of a removed handle should fail")
	}

	require.NoError(t, r.Close())
	assert.Empty(t, r.Handles())
	assert.Equal(t, Closed, p2.GetState())
}

func TestParseHandle(t *testing.T) {
	if _, err := ParseHandle("abc"); !common.IsPoolErr(err, common.InvalidTransaction) {
		t.Fatalf("ParseHandle should fail with InvalidTransaction, not %v", err)
	}
}
