//go:build linux
// +build linux

package wakeup

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/iodispatch/api"
)

func TestChannelRoundTrip(t *testing.T) {
	ch, err := New(zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	msg := api.InterruptMessage{ID: 42, Port: 7, Data: api.PackCommand(api.CommandWord{
		Command: api.CommandSetMask,
		Events:  api.EventIn,
		Tokens:  3,
	})}
	ch.Wake(msg)

	got := ch.Drain(4)
	require.Len(t, got, 1)
	require.Equal(t, msg, got[0])
}

func TestChannelDrainEmpty(t *testing.T) {
	ch, err := New(zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	require.Nil(t, ch.Drain(4))
}

func TestChannelBatch(t *testing.T) {
	ch, err := New(zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	for i := int64(0); i < 3; i++ {
		ch.Wake(api.InterruptMessage{ID: i, Port: i, Data: i})
	}
	got := ch.Drain(8)
	require.Len(t, got, 3)
	for i, m := range got {
		require.EqualValues(t, i, m.ID)
	}
}
