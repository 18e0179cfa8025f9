package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/crossarb/internal/pkg/registry"
)

func TestFloor(t *testing.T) {
	t.Parallel()

	ids := []uint64{3, 7, 8, 20, 41}

	cases := []struct {
		v    uint64
		want int
	}{
		{3, 0},
		{4, 0},
		{7, 1},
		{8, 2},
		{19, 2},
		{20, 3},
		{40, 3},
		{41, 4},
		{1000, 4},
	}

	for _, c := range cases {
		got, err := registry.Floor(ids, c.v)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "floor(%d)", c.v)
	}
}

func TestFloorExhaustive(t *testing.T) {
	t.Parallel()

	ids := []uint64{2, 5, 6, 11, 12, 13, 30}

	for v := ids[0]; v <= 40; v++ {
		want := 0
		for i, id := range ids {
			if id <= v {
				want = i
			}
		}

		got, err := registry.Floor(ids, v)
		require.NoError(t, err)
		assert.Equal(t, want, got, "floor(%d)", v)
	}
}

func TestFloorMisses(t *testing.T) {
	t.Parallel()

	_, err := registry.Floor(nil, 1)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)

	_, err = registry.Floor([]uint64{5, 9}, 4)
	assert.ErrorIs(t, err, registry.ErrBelowFirstEntry)

	idx, err := registry.Floor([]uint64{5}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestApplicationLevel(t *testing.T) {
	t.Parallel()

	var entry registry.Entry

	_, err := entry.Resolve(1)
	require.ErrorIs(t, err, registry.ErrNotRegistered)

	params := registry.Params{MetaEvidence: "ipfs/X", ExtraData: []byte{0x00}}
	require.NoError(t, entry.RegisterApplication(params))

	got, err := entry.Resolve(12345)
	require.NoError(t, err)
	assert.Equal(t, params, got)

	assert.ErrorIs(t, entry.RegisterItem(1, params), registry.ErrModeConflict)
}

func TestItemLevel(t *testing.T) {
	t.Parallel()

	var entry registry.Entry

	first := registry.Params{MetaEvidence: "ipfs/A", ExtraData: []byte{0x01}}
	second := registry.Params{MetaEvidence: "ipfs/B", ExtraData: []byte{0x01}}

	require.NoError(t, entry.RegisterItem(10, first))
	require.NoError(t, entry.RegisterItem(20, second))

	assert.ErrorIs(t, entry.RegisterItem(20, first), registry.ErrNotIncreasing)
	assert.ErrorIs(t, entry.RegisterItem(30, second), registry.ErrUnchanged)
	assert.ErrorIs(t, entry.RegisterApplication(first), registry.ErrModeConflict)

	got, err := entry.Resolve(15)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = entry.Resolve(99)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = entry.Resolve(9)
	assert.ErrorIs(t, err, registry.ErrBelowFirstEntry)

	assert.Equal(t, registry.ModeItem, entry.Mode)
}

func TestMirrorAcceptsAnyOrder(t *testing.T) {
	t.Parallel()

	a := registry.Params{MetaEvidence: "ipfs/A"}
	b := registry.Params{MetaEvidence: "ipfs/B"}
	c := registry.Params{MetaEvidence: "ipfs/C"}

	var entry registry.Entry

	require.NoError(t, entry.Mirror(registry.ModeItem, 30, c))
	require.NoError(t, entry.Mirror(registry.ModeItem, 10, a))
	require.NoError(t, entry.Mirror(registry.ModeItem, 20, b))
	require.NoError(t, entry.Mirror(registry.ModeItem, 20, b))

	assert.Equal(t, []uint64{10, 20, 30}, entry.ItemIDs)

	got, err := entry.Resolve(25)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	assert.ErrorIs(t, entry.Mirror(registry.ModeApplication, 0, a), registry.ErrModeConflict)
	assert.ErrorIs(t, entry.Mirror(registry.ModeUnset, 0, a), registry.ErrNotRegistered)
}
