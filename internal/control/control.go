// Package control implements the ControlService RPC surface: the
// long-lived server endpoint exposing directory creation, path
// validation, partial-hash query, overwrite-file, and spawn-receiver to
// the client, tunneled over the secure-shell control channel.
package control

import (
	"bufio"
	"context"
	"sync"

	"github.com/google/uuid"

	"parcel/internal/config"
	"parcel/internal/errors"
	"parcel/internal/filesystem"
	"parcel/internal/hasher"
	"parcel/internal/protocol"
	"parcel/internal/receiver"
	"parcel/internal/translog"
)

// Service is the server-side ControlService. One Service is shared by
// every in-flight client worker; its mutable state (the receiver table,
// the transaction log) is serialized internally.
type Service struct {
	log       *translog.Log
	chunkSize int64

	mu        sync.Mutex
	receivers map[string]*receiver.Receiver
}

// NewService builds a Service backed by the transaction log at logPath,
// using CHUNK_SIZE as the system-wide block size both sides of the
// control channel agree on without negotiating it over the wire.
func NewService(logPath string, chunkSize int64) (*Service, error) {
	log, err := translog.Open(logPath)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	return &Service{log: log, chunkSize: chunkSize, receivers: make(map[string]*receiver.Receiver)}, nil
}

// Serve handles every request on one connection until the client closes
// it or a fatal protocol error occurs. The server spawns one of these per
// incoming control connection (thread-per-request at the call level).
func (s *Service) Serve(ctx context.Context, reader *bufio.Reader, writer *bufio.Writer) error {
	for {
		cmd, err := protocol.ReadCommand(ctx, reader)
		if err != nil {
			return err
		}

		if err := s.dispatch(ctx, cmd, reader, writer); err != nil {
			return err
		}
	}
}

func (s *Service) dispatch(ctx context.Context, cmd byte, reader *bufio.Reader, writer *bufio.Writer) error {
	switch cmd {
	case protocol.CmdCreateDir:
		path, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		return respond(writer, filesystem.CreateDir(path), nil)

	case protocol.CmdValidatePath:
		dest, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		src, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		resolved, verr := filesystem.ValidatePath(dest, src)
		return respond(writer, verr, func() error { return protocol.SendString(writer, resolved) })

	case protocol.CmdProbeFile:
		path, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		size, perr := filesystem.ProbeFile(path)
		return respond(writer, perr, func() error { return protocol.SendInt64(writer, size) })

	case protocol.CmdPartialHash:
		path, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		k, err := protocol.ReadInt64(ctx, reader)
		if err != nil {
			return err
		}
		digest, herr := hasher.Hash(path, k, s.chunkSize)
		return respond(writer, herr, func() error { return protocol.SendString(writer, digest) })

	case protocol.CmdOverwriteFile:
		path, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		return respond(writer, filesystem.OverwriteFile(path), nil)

	case protocol.CmdBlockCount:
		path, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		n, berr := filesystem.BlockCount(path, s.chunkSize)
		return respond(writer, berr, func() error { return protocol.SendInt64(writer, n) })

	case protocol.CmdOpenReceiver:
		tcpMode, err := protocol.ReadBool(ctx, reader)
		if err != nil {
			return err
		}
		id, port, nonce, oerr := s.openReceiver(tcpMode)
		return respond(writer, oerr, func() error {
			if err := protocol.SendString(writer, id); err != nil {
				return err
			}
			if err := protocol.SendInt64(writer, int64(port)); err != nil {
				return err
			}
			return protocol.SendString(writer, nonce)
		})

	case protocol.CmdStartReceive:
		id, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		path, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		blockCount, err := protocol.ReadInt64(ctx, reader)
		if err != nil {
			return err
		}
		fileSize, err := protocol.ReadInt64(ctx, reader)
		if err != nil {
			return err
		}
		contentKey, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		compressed, err := protocol.ReadBool(ctx, reader)
		if err != nil {
			return err
		}
		return respond(writer, s.startReceive(id, path, blockCount, fileSize, contentKey, compressed), nil)

	case protocol.CmdPing:
		if err := protocol.SendCommand(writer, protocol.CmdPong); err != nil {
			return err
		}
		return protocol.FlushWriter(writer)

	case protocol.CmdBytesReceived:
		id, err := protocol.ReadString(ctx, reader)
		if err != nil {
			return err
		}
		n, berr := s.bytesReceived(id)
		return respond(writer, berr, func() error { return protocol.SendInt64(writer, n) })

	default:
		return errors.NewProtocolError("dispatch", "unknown control command", nil)
	}
}

func (s *Service) openReceiver(tcpMode bool) (id string, port int, nonce string, err error) {
	r, err := receiver.Open(tcpMode, s.log)
	if err != nil {
		return "", 0, "", err
	}

	handle := uuid.NewString()
	s.mu.Lock()
	s.receivers[handle] = r
	s.mu.Unlock()

	return handle, r.Port(), r.Nonce, nil
}

func (s *Service) startReceive(id, path string, blockCount, fileSize int64, contentKey string, compressed bool) error {
	r, err := s.lookupReceiver(id)
	if err != nil {
		return err
	}
	r.StartReceive(receiver.StartParams{
		Path:       path,
		BlockCount: blockCount,
		FileSize:   fileSize,
		ChunkSize:  s.chunkSize,
		ContentKey: contentKey,
		Compressed: compressed,
	})
	return nil
}

func (s *Service) bytesReceived(id string) (int64, error) {
	r, err := s.lookupReceiver(id)
	if err != nil {
		return 0, err
	}
	return r.BytesReceived(), nil
}

func (s *Service) lookupReceiver(id string) (*receiver.Receiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receivers[id]
	if !ok {
		return nil, errors.NewProtocolError("lookup_receiver", "unknown receiver id: "+id, nil)
	}
	return r, nil
}

// respond writes CmdOK plus the payload (if any) on success, or CmdError
// with the failure message on err.
func respond(writer *bufio.Writer, err error, payload func() error) error {
	if err != nil {
		return protocol.SendError(writer, err.Error())
	}
	if err := protocol.SendCommand(writer, protocol.CmdOK); err != nil {
		return err
	}
	if payload != nil {
		if err := payload(); err != nil {
			return err
		}
	}
	return protocol.FlushWriter(writer)
}
