package control

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPair(t *testing.T, svc *Service) (*Client, func()) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		_ = svc.Serve(ctx, bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
	}()

	client := NewClient(bufio.NewReader(clientConn), bufio.NewWriter(clientConn))
	cleanup := func() {
		cancel()
		serverConn.Close()
		clientConn.Close()
	}
	return client, cleanup
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "transactions.yaml")
	svc, err := NewService(logPath, 0)
	require.NoError(t, err)
	return svc
}

func TestService_CreateDir(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	dir := filepath.Join(t.TempDir(), "nested", "child")
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	require.NoError(t, client.CreateDir(ctx, dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestService_ValidatePath(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	destDir := t.TempDir()
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	resolved, err := client.ValidatePath(ctx, destDir, "/some/src/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "file.txt"), resolved)
}

func TestService_ProbeFileCreatesMissing(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "new.bin")
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	size, err := client.ProbeFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestService_PartialHashMatchesWholeFile(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	digest, err := client.PartialHash(ctx, path, 0)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	want := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, hex.EncodeToString(want[:]), digest)
}

func TestService_OverwriteFile(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("stale content"), 0o644))

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	require.NoError(t, client.OverwriteFile(ctx, path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestService_BlockCount(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	n, err := client.BlockCount(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestService_OpenReceiverAndBytesReceived(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	handle, err := client.OpenReceiver(ctx, true)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Greater(t, handle.Port, 0)
	assert.Len(t, handle.Nonce, 16)

	n, err := client.BytesReceived(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestService_BytesReceivedUnknownHandle(t *testing.T) {
	svc := newTestService(t)
	client, cleanup := newTestPair(t, svc)
	defer cleanup()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	_, err := client.BytesReceived(ctx, ReceiverHandle{ID: "does-not-exist"})
	assert.Error(t, err)
}
