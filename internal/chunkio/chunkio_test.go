package chunkio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return c1, c2
}

func TestStream_SendExactRecvInto(t *testing.T) {
	a, b := pipePair(t)
	sa := NewFromNetConn(a)
	sb := NewFromNetConn(b)

	payload := []byte("hello, chunked world")

	go func() {
		require.NoError(t, sa.SendExact(payload))
	}()

	buf := make([]byte, 64)
	n, err := sb.RecvInto(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestStream_RecvFull(t *testing.T) {
	a, b := pipePair(t)
	sa := NewFromNetConn(a)
	sb := NewFromNetConn(b)

	nonce := []byte("1234567890123456")
	go func() {
		require.NoError(t, sa.SendExact(nonce))
	}()

	got := make([]byte, len(nonce))
	require.NoError(t, sb.RecvFull(got))
	assert.Equal(t, nonce, got)
}

func TestStream_RecvIntoEOF(t *testing.T) {
	a, b := pipePair(t)
	sb := NewFromNetConn(b)

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Close()
	}()

	buf := make([]byte, 16)
	n, err := sb.RecvInto(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
