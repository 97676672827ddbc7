package ports

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickPrefersRequestedPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	free := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	got, err := Pick(free)
	require.NoError(t, err)
	assert.Equal(t, free, got)
}

func TestPickSkipsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	got, err := Pick(busy)
	require.NoError(t, err)
	assert.NotEqual(t, busy, got)
	assert.Greater(t, got, busy)
}

func TestAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	assert.False(t, Available(busy))
}
