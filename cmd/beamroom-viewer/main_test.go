package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTargetPrefersHostAddr(t *testing.T) {
	tcpAddr, err := resolveTarget(context.Background(), "127.0.0.1:52345", "ignored._beamctl._tcp.local.", 9999)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", tcpAddr.IP.String())
	assert.Equal(t, 52345, tcpAddr.Port)
}

func TestResolveTargetRejectsUnresolvableHostAddr(t *testing.T) {
	_, err := resolveTarget(context.Background(), "not a host:port", "", 0)
	require.Error(t, err)
}
