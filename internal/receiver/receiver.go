// Package receiver implements ServerReceiver: one instance per in-flight
// file on the server side, owning a one-shot data listener, the nonce
// handshake, and the byte-pump that appends into the target file.
package receiver

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"net"
	"os"
	"strconv"
	"sync/atomic"

	"parcel/internal/chunkio"
	"parcel/internal/compression"
	"parcel/internal/config"
	"parcel/internal/errors"
	"parcel/internal/transport"
	"parcel/internal/translog"
)

// State is one of the receiver lifecycle states.
type State int32

const (
	StateListening State = iota
	StateAuthenticating
	StateReceiving
	StateDone
	StateFailed
)

// StartParams carries the parameters the control service's start_receive
// call hands to a listening receiver.
type StartParams struct {
	Path       string
	BlockCount int64
	FileSize   int64
	ChunkSize  int64
	ContentKey string // hash key for translog bookkeeping
	Compressed bool   // wire chunks are gzip frames, one per CHUNK_SIZE block read
}

// Receiver is one ServerReceiver instance.
type Receiver struct {
	Nonce string

	listener transport.Listener
	state    atomic.Int32
	size     atomic.Int64

	startCh chan StartParams
	doneCh  chan struct{}
	err     error

	log *translog.Log
}

// Open constructs a ServerReceiver: it opens a listening socket on an
// ephemeral port, generates a nonce, and immediately starts a background
// worker that accepts and verifies exactly one connection. No data is
// accepted until StartReceive is called with the transfer parameters.
func Open(tcpMode bool, log *translog.Log) (*Receiver, error) {
	var ln transport.Listener
	var err error
	if tcpMode {
		ln, err = transport.ListenTCP()
	} else {
		ln, err = transport.ListenQUIC()
	}
	if err != nil {
		return nil, err
	}

	nonce, err := generateNonce()
	if err != nil {
		ln.Close()
		return nil, errors.NewConnectError("generate_nonce", "", err)
	}

	r := &Receiver{
		Nonce:    nonce,
		listener: ln,
		startCh:  make(chan StartParams, 1),
		doneCh:   make(chan struct{}),
		log:      log,
	}
	r.state.Store(int32(StateListening))

	go r.run()

	return r, nil
}

// Port is the ephemeral TCP/UDP port the receiver is listening on.
func (r *Receiver) Port() int {
	return portOf(r.listener.Addr().String())
}

// StartReceive supplies the transfer parameters once the client's control
// call requests them; it returns immediately, matching the §9 design note
// that start_receive returns promptly while byte-pumping runs concurrently.
func (r *Receiver) StartReceive(p StartParams) {
	r.startCh <- p
}

// BytesReceived is the receiver's current size counter.
func (r *Receiver) BytesReceived() int64 {
	return r.size.Load()
}

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	return State(r.state.Load())
}

// Wait blocks until the receiver reaches a terminal state.
func (r *Receiver) Wait(ctx context.Context) error {
	select {
	case <-r.doneCh:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) run() {
	defer r.listener.Close()

	ctx := context.Background()
	conn, err := r.listener.Accept(ctx)
	if err != nil {
		r.fail(errors.NewConnectError("accept_receiver", "", err))
		return
	}
	defer conn.Close()

	r.state.Store(int32(StateAuthenticating))

	stream := chunkio.New(conn, "data-channel")
	nonceBuf := make([]byte, config.NonceSize)
	if err := stream.RecvFull(nonceBuf); err != nil {
		r.fail(errors.NewAuthError("verify_nonce", ""))
		return
	}
	if string(nonceBuf) != r.Nonce {
		r.fail(errors.NewAuthError("verify_nonce", ""))
		return
	}

	params := <-r.startCh
	r.state.Store(int32(StateReceiving))

	if err := r.receiveLoop(stream, params); err != nil {
		r.fail(err)
		return
	}

	r.state.Store(int32(StateDone))
	close(r.doneCh)
}

func (r *Receiver) receiveLoop(stream *chunkio.Stream, p StartParams) error {
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_RDWR, config.FilePerms)
	if err != nil {
		return errors.NewIoError("open_target", p.Path, err)
	}
	defer f.Close()

	offset := p.BlockCount * p.ChunkSize
	if _, err := f.Seek(offset, 0); err != nil {
		return errors.NewIoError("seek_target", p.Path, err)
	}
	r.size.Store(offset)

	if p.Compressed {
		return r.receiveCompressed(stream, f, p)
	}

	buf := make([]byte, p.ChunkSize)
	for r.size.Load() < p.FileSize {
		n, err := stream.RecvInto(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break // clean end-of-stream
		}
		if err := r.commit(f, buf[:n], p); err != nil {
			return err
		}
	}

	return nil
}

// receiveCompressed mirrors receiveLoop's plain path, but each wire chunk
// is a gzip frame covering up to CHUNK_SIZE bytes of original content;
// decompressing restores the exact bytes the sender read from disk, so
// the on-disk file (and every later hash over it) stays identical to the
// uncompressed path.
func (r *Receiver) receiveCompressed(stream *chunkio.Stream, f *os.File, p StartParams) error {
	for r.size.Load() < p.FileSize {
		frame, err := stream.RecvFramed()
		if err != nil {
			return err
		}
		if frame == nil {
			break // clean end-of-stream
		}
		chunk, err := compression.DecompressData(frame, int(p.ChunkSize))
		if err != nil {
			return err
		}
		if err := r.commit(f, chunk, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Receiver) commit(f *os.File, data []byte, p StartParams) error {
	if _, err := f.Write(data); err != nil {
		return errors.NewIoError("write_target", p.Path, err)
	}
	newSize := r.size.Add(int64(len(data)))

	if r.log != nil && p.ContentKey != "" {
		if newSize >= p.FileSize {
			if err := r.log.Remove(p.ContentKey); err != nil {
				slog.Warn("failed to clear transaction record", "error", err)
			}
		} else if err := r.log.Insert(p.ContentKey, translog.Record{
			TargetPath:     p.Path,
			BytesCommitted: newSize,
		}); err != nil {
			slog.Warn("failed to persist transaction record", "error", err)
		}
	}
	return nil
}

func (r *Receiver) fail(err error) {
	r.err = err
	r.state.Store(int32(StateFailed))
	close(r.doneCh)
}

func generateNonce() (string, error) {
	digits := make([]byte, config.NonceSize)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits), nil
}

func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}
