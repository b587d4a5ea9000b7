package receiver

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcel/internal/chunkio"
	"parcel/internal/compression"
	"parcel/internal/translog"
	"parcel/internal/transport"
)

func TestReceiver_FullReceiptRemovesLogRecord(t *testing.T) {
	txlog, err := translog.Open(filepath.Join(t.TempDir(), "transactions.yaml"))
	require.NoError(t, err)
	r, err := Open(true, txlog)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.bin")
	payload := []byte("0123456789ABCDEF")
	r.StartReceive(StartParams{
		Path:       dest,
		ChunkSize:  4,
		FileSize:   int64(len(payload)),
		ContentKey: "content-key",
	})

	dialer := transport.NewTCPDialer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx, "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()

	stream := chunkio.New(conn, "test")
	require.NoError(t, stream.SendExact([]byte(r.Nonce)))
	require.NoError(t, stream.SendExact(payload))
	conn.Close()

	require.NoError(t, r.Wait(ctx))
	assert.Equal(t, StateDone, r.State())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, ok := txlog.Lookup("content-key")
	assert.False(t, ok)
}

func TestReceiver_CompressedReceiptDecompressesToOriginalBytes(t *testing.T) {
	r, err := Open(true, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.txt")
	payload := []byte("AAAABBBBCCCCDDDD") // 16 bytes, two 8-byte chunks
	r.StartReceive(StartParams{
		Path:       dest,
		ChunkSize:  8,
		FileSize:   int64(len(payload)),
		Compressed: true,
	})

	dialer := transport.NewTCPDialer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx, "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()

	stream := chunkio.New(conn, "test")
	require.NoError(t, stream.SendExact([]byte(r.Nonce)))

	for _, chunk := range [][]byte{payload[:8], payload[8:]} {
		frame, err := compression.CompressData(chunk, dest)
		require.NoError(t, err)
		require.NoError(t, stream.SendFramed(frame))
	}
	conn.Close()

	require.NoError(t, r.Wait(ctx))
	assert.Equal(t, StateDone, r.State())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReceiver_NonceMismatchFails(t *testing.T) {
	r, err := Open(true, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out.bin")
	r.StartReceive(StartParams{Path: dest, ChunkSize: 4, FileSize: 8})

	dialer := transport.NewTCPDialer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx, "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()

	stream := chunkio.New(conn, "test")
	require.NoError(t, stream.SendExact([]byte("0000000000000000")))

	err = r.Wait(ctx)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, r.State())
}

