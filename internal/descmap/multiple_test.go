package descmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/iodispatch/api"
)

// TestMultipleDescriptorRoundRobin exercises token-exhaustion round-robin:
// three subscribers, one token each, round-robin dispatch, then exhaustion.
func TestMultipleDescriptorRoundRobin(t *testing.T) {
	d := NewMultiple(9)
	d.SetPortAndMask(1, api.EventIn)
	d.SetPortAndMask(2, api.EventIn)
	d.SetPortAndMask(3, api.EventIn)
	d.ReturnTokens(1, 1)
	d.ReturnTokens(2, 1)
	d.ReturnTokens(3, 1)

	require.EqualValues(t, api.EventIn, d.EffectiveMask())

	var got []int64
	for i := 0; i < 3; i++ {
		p, ok := d.NextNotifyPort(api.EventIn)
		require.True(t, ok)
		got = append(got, p)
	}
	require.Equal(t, []int64{1, 2, 3}, got)

	// all tokens exhausted now.
	require.EqualValues(t, 0, d.EffectiveMask())
	_, ok := d.NextNotifyPort(api.EventIn)
	require.False(t, ok)

	d.ReturnTokens(2, 1)
	p, ok := d.NextNotifyPort(api.EventIn)
	require.True(t, ok)
	require.EqualValues(t, 2, p)
}

func TestMultipleDescriptorRemovePortIsLazy(t *testing.T) {
	d := NewMultiple(9)
	d.SetPortAndMask(1, api.EventIn)
	d.SetPortAndMask(2, api.EventIn)
	d.ReturnTokens(1, 1)
	d.ReturnTokens(2, 1)

	empty := d.RemovePort(1)
	require.False(t, empty)

	p, ok := d.NextNotifyPort(api.EventIn)
	require.True(t, ok)
	require.EqualValues(t, 2, p)

	empty = d.RemovePort(2)
	require.True(t, empty)
}

func TestMultipleDescriptorTokensNeverNegative(t *testing.T) {
	d := NewMultiple(9)
	d.SetPortAndMask(1, api.EventIn)
	_, ok := d.NextNotifyPort(api.EventIn)
	require.False(t, ok, "zero tokens must never be selected")
}
