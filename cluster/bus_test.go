package cluster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBusDeliversToAllListeners(t *testing.T) {
	bus := NewLocalBus()
	require.NoError(t, bus.Start())
	defer func() { require.NoError(t, bus.Stop()) }()

	var lock sync.Mutex
	var got1, got2 []int64
	bus.Subscribe(func(version int64) {
		lock.Lock()
		defer lock.Unlock()
		got1 = append(got1, version)
	})
	bus.Subscribe(func(version int64) {
		lock.Lock()
		defer lock.Unlock()
		got2 = append(got2, version)
	})

	require.NoError(t, bus.BroadcastVersion(1))
	require.NoError(t, bus.BroadcastVersion(2))
	lock.Lock()
	defer lock.Unlock()
	require.Equal(t, []int64{1, 2}, got1)
	require.Equal(t, []int64{1, 2}, got2)
}

func TestLocalBusIgnoresStaleVersions(t *testing.T) {
	bus := NewLocalBus()
	var got []int64
	bus.Subscribe(func(version int64) {
		got = append(got, version)
	})
	require.NoError(t, bus.BroadcastVersion(5))
	require.NoError(t, bus.BroadcastVersion(3))
	require.NoError(t, bus.BroadcastVersion(5))
	require.NoError(t, bus.BroadcastVersion(6))
	require.Equal(t, []int64{5, 6}, got)
}

func TestParseVersion(t *testing.T) {
	version, err := parseVersion([]byte("42"))
	require.NoError(t, err)
	require.Equal(t, int64(42), version)
	_, err = parseVersion([]byte("not-a-number"))
	require.Error(t, err)
}
