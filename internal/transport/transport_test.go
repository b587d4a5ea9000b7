package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPTransport_RoundTrip(t *testing.T) {
	ln, err := ListenTCP()
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverConnCh := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		require.NoError(t, err)
		serverConnCh <- c
	}()

	dialer := NewTCPDialer()
	clientConn, err := dialer.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	payload := []byte("nonce-or-chunk-bytes")
	go clientConn.Write(payload)

	buf := make([]byte, len(payload))
	n, err := serverConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestGenerateTLSConfig(t *testing.T) {
	conf, err := generateTLSConfig()
	require.NoError(t, err)
	assert.Len(t, conf.Certificates, 1)
}
