// Package sender implements ClientSender: the per-job resume decision
// tree that decides whether a file needs a fresh transfer, a resumed
// transfer, or no transfer at all, then streams it over a data channel.
package sender

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"

	"parcel/internal/chunkio"
	"parcel/internal/compression"
	"parcel/internal/control"
	"parcel/internal/errors"
	"parcel/internal/filesystem"
	"parcel/internal/hasher"
	"parcel/internal/pacing"
	"parcel/internal/transport"
)

// Job is a single source-to-destination transfer unit.
type Job struct {
	SourcePath string
	ServerPath string
}

// Mode records which branch of the resume decision tree a job took.
type Mode int

const (
	ModeFresh Mode = iota
	ModeResume
	ModeSkip
)

func (m Mode) String() string {
	switch m {
	case ModeFresh:
		return "fresh"
	case ModeResume:
		return "resume"
	case ModeSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Result reports what a Sender actually did for one job.
type Result struct {
	Mode      Mode
	BytesSent int64
}

// Sender is one ClientSender, bound to one ControlService connection;
// the driver gives each pool worker its own Sender and connection. It
// opens a fresh data channel per job.
type Sender struct {
	Client    *control.Client
	Dialer    transport.Dialer
	DataHost  string
	ChunkSize int64
	TCPMode   bool
	Verify    bool
	Compress  bool
	Limiter   *pacing.Limiter
	Stats     *pacing.Tracker
}

// New builds a Sender bound to an already-open control connection.
func New(client *control.Client, dialer transport.Dialer, dataHost string, chunkSize int64, tcpMode, verify bool) *Sender {
	return &Sender{
		Client:    client,
		Dialer:    dialer,
		DataHost:  dataHost,
		ChunkSize: chunkSize,
		TCPMode:   tcpMode,
		Verify:    verify,
	}
}

// Send runs the decision tree for job exactly once, then (unless the
// outcome is skip) streams the file and optionally verifies it.
func (s *Sender) Send(ctx context.Context, job Job) (Result, error) {
	localInfo, err := filesystem.GetFileInfo(job.SourcePath)
	if err != nil {
		return Result{}, err
	}
	localSize := localInfo.Size

	serverSize, err := s.Client.ProbeFile(ctx, job.ServerPath)
	if err != nil {
		return Result{}, err
	}

	mode, bc, err := s.decide(ctx, job, serverSize, localSize)
	if err != nil {
		return Result{}, err
	}

	if mode == ModeSkip {
		return Result{Mode: ModeSkip}, nil
	}

	contentKey, err := hasher.WholeFile(job.SourcePath, s.ChunkSize)
	if err != nil {
		return Result{}, err
	}

	handle, err := s.Client.OpenReceiver(ctx, s.TCPMode)
	if err != nil {
		return Result{}, err
	}

	compressed := s.Compress && compression.ShouldCompressFile(job.ServerPath)
	if err := s.Client.StartReceive(ctx, handle, job.ServerPath, bc, localSize, contentKey, compressed); err != nil {
		return Result{}, err
	}

	sent, err := s.stream(ctx, job.SourcePath, handle, bc, compressed)
	if err != nil {
		return Result{}, err
	}

	if s.Verify {
		if err := s.verifyWholeFile(ctx, job); err != nil {
			return Result{}, err
		}
	}

	return Result{Mode: mode, BytesSent: sent}, nil
}

// decide runs the fresh/resume/skip decision tree (§4.6) and returns the
// chosen mode and the block count the receiver should start at.
func (s *Sender) decide(ctx context.Context, job Job, serverSize, localSize int64) (Mode, int64, error) {
	if serverSize == 0 {
		if err := s.Client.OverwriteFile(ctx, job.ServerPath); err != nil {
			return ModeFresh, 0, err
		}
		return ModeFresh, 0, nil
	}

	// A server file larger than the source is a mismatch outright;
	// comparing whole files (bc == 0) only when sizes already agree saves
	// a redundant block_count round trip.
	if serverSize > localSize {
		if err := s.Client.OverwriteFile(ctx, job.ServerPath); err != nil {
			return ModeFresh, 0, err
		}
		return ModeFresh, 0, nil
	}

	var bc int64
	var err error
	if serverSize != localSize {
		bc, err = s.Client.BlockCount(ctx, job.ServerPath)
		if err != nil {
			return ModeFresh, 0, err
		}
	}

	serverHash, err := s.Client.PartialHash(ctx, job.ServerPath, bc)
	if err != nil {
		return ModeFresh, 0, err
	}
	localHash, err := hasher.Hash(job.SourcePath, bc, s.ChunkSize)
	if err != nil {
		return ModeFresh, 0, err
	}

	if localHash != serverHash {
		if err := s.Client.OverwriteFile(ctx, job.ServerPath); err != nil {
			return ModeFresh, 0, err
		}
		return ModeFresh, 0, nil
	}
	if bc == 0 {
		return ModeSkip, 0, nil
	}
	return ModeResume, bc, nil
}

// stream dials the receiver's data channel, authenticates with the
// nonce, and sends the source file from resumeOffset onward. A source
// whose size is an exact multiple of CHUNK_SIZE reads zero bytes on its
// last iteration, which this loop simply never sends.
func (s *Sender) stream(ctx context.Context, path string, handle control.ReceiverHandle, bc int64, compressed bool) (int64, error) {
	addr := net.JoinHostPort(s.DataHost, strconv.Itoa(handle.Port))
	conn, err := s.Dialer.Dial(ctx, addr)
	if err != nil {
		return 0, errors.NewConnectError("dial_data_channel", addr, err)
	}
	defer conn.Close()

	stream := chunkio.New(conn, addr)
	if err := stream.SendExact([]byte(handle.Nonce)); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, errors.NewIoError("open_source", path, err)
	}
	defer f.Close()

	offset := bc * s.ChunkSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, errors.NewIoError("seek_source", path, err)
	}

	buf := make([]byte, s.ChunkSize)
	var sent int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if s.Limiter != nil {
				if werr := s.Limiter.Wait(ctx, n); werr != nil {
					return sent, werr
				}
			}
			if compressed {
				payload, cerr := compression.CompressData(buf[:n], path)
				if cerr != nil {
					return sent, cerr
				}
				if serr := stream.SendFramed(payload); serr != nil {
					return sent, serr
				}
			} else if serr := stream.SendExact(buf[:n]); serr != nil {
				return sent, serr
			}
			sent += int64(n)
			if s.Stats != nil {
				if rate := s.Stats.Observe(int64(n)); rate > 0 && s.Limiter != nil {
					s.Limiter.Retune(int64(rate))
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return sent, errors.NewIoError("read_source", path, readErr)
		}
	}

	return sent, nil
}

func (s *Sender) verifyWholeFile(ctx context.Context, job Job) error {
	serverHash, err := s.Client.PartialHash(ctx, job.ServerPath, 0)
	if err != nil {
		return err
	}
	localHash, err := hasher.WholeFile(job.SourcePath, s.ChunkSize)
	if err != nil {
		return err
	}
	if serverHash != localHash {
		return errors.NewVerifyError(job.ServerPath, localHash, serverHash)
	}
	return nil
}
