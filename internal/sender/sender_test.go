package sender

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcel/internal/control"
	"parcel/internal/transport"
)

func newTestSender(t *testing.T, chunkSize int64, verify bool) (*Sender, func()) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "transactions.yaml")
	svc, err := control.NewService(logPath, chunkSize)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		_ = svc.Serve(ctx, bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
	}()

	client := control.NewClient(bufio.NewReader(clientConn), bufio.NewWriter(clientConn))
	s := New(client, transport.NewTCPDialer(), "127.0.0.1", chunkSize, true, verify)

	cleanup := func() {
		cancel()
		serverConn.Close()
		clientConn.Close()
	}
	return s, cleanup
}

func writeFile(t *testing.T, path string, contents []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, contents, 0o644))
}

func TestSender_FreshSmallFile(t *testing.T) {
	s, cleanup := newTestSender(t, 8, false)
	defer cleanup()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	writeFile(t, src, []byte("hello"))

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, result.Mode)
	assert.Equal(t, int64(5), result.BytesSent)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestSender_ExactMultipleOfChunkSize(t *testing.T) {
	s, cleanup := newTestSender(t, 4, false)
	defer cleanup()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	writeFile(t, src, []byte("ABCDEFGH")) // exactly two 4-byte chunks

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, int64(8), result.BytesSent)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDEFGH"), got)
}

func TestSender_SkipIdenticalFile(t *testing.T) {
	s, cleanup := newTestSender(t, 4, false)
	defer cleanup()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	contents := []byte("identical contents")
	writeFile(t, src, contents)
	writeFile(t, dest, contents)

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, ModeSkip, result.Mode)
	assert.Equal(t, int64(0), result.BytesSent)
}

func TestSender_ResumePartialFile(t *testing.T) {
	s, cleanup := newTestSender(t, 4, false)
	defer cleanup()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	full := []byte("0123456789AB") // 12 bytes, 3 chunks of 4
	writeFile(t, src, full)
	writeFile(t, dest, full[:8]) // first two chunks already present

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, ModeResume, result.Mode)
	assert.Equal(t, int64(4), result.BytesSent)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestSender_MismatchOverwrites(t *testing.T) {
	s, cleanup := newTestSender(t, 4, false)
	defer cleanup()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	writeFile(t, src, []byte("NEWCONTENTDATA"))
	writeFile(t, dest, []byte("STALE-CONTENTS")) // same length, different bytes

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, result.Mode)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("NEWCONTENTDATA"), got)
}

func TestSender_CompressedTransfer(t *testing.T) {
	s, cleanup := newTestSender(t, 4, true)
	defer cleanup()
	s.Compress = true

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt") // .txt is compressible
	dest := filepath.Join(dir, "dest.txt")
	writeFile(t, src, []byte("repeated repeated repeated repeated payload"))

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, result.Mode)
	assert.Equal(t, int64(len("repeated repeated repeated repeated payload")), result.BytesSent)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "repeated repeated repeated repeated payload", string(got))
}

func TestSender_PostTransferVerification(t *testing.T) {
	s, cleanup := newTestSender(t, 4, true)
	defer cleanup()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	writeFile(t, src, []byte("verified payload"))

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	result, err := s.Send(ctx, Job{SourcePath: src, ServerPath: dest})
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, result.Mode)
}
