package control

import (
	"bufio"
	"context"

	"parcel/internal/protocol"
)

// Client is the client-side ControlService invoker: a thin RPC stub over
// the control channel's reader/writer pair.
type Client struct {
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewClient wraps an already-connected control channel.
func NewClient(reader *bufio.Reader, writer *bufio.Writer) *Client {
	return &Client{reader: reader, writer: writer}
}

// ReceiverHandle identifies a ServerReceiver across subsequent RPCs, the
// generalization the design notes describe for runtimes lacking remote
// object references.
type ReceiverHandle struct {
	ID    string
	Port  int
	Nonce string
}

func (c *Client) call(ctx context.Context, cmd byte, args ...string) error {
	if err := protocol.SendCommand(c.writer, cmd); err != nil {
		return err
	}
	for _, a := range args {
		if err := protocol.SendString(c.writer, a); err != nil {
			return err
		}
	}
	if err := protocol.FlushWriter(c.writer); err != nil {
		return err
	}
	return protocol.ExpectOK(ctx, c.reader)
}

// CreateDir implements create_dir(path).
func (c *Client) CreateDir(ctx context.Context, path string) error {
	if err := protocol.SendCommand(c.writer, protocol.CmdCreateDir); err != nil {
		return err
	}
	if err := protocol.SendString(c.writer, path); err != nil {
		return err
	}
	if err := protocol.FlushWriter(c.writer); err != nil {
		return err
	}
	return protocol.ExpectOK(ctx, c.reader)
}

// ValidatePath implements validate_path(dest, src).
func (c *Client) ValidatePath(ctx context.Context, dest, src string) (string, error) {
	if err := protocol.SendCommand(c.writer, protocol.CmdValidatePath); err != nil {
		return "", err
	}
	if err := protocol.SendString(c.writer, dest); err != nil {
		return "", err
	}
	if err := protocol.SendString(c.writer, src); err != nil {
		return "", err
	}
	if err := protocol.FlushWriter(c.writer); err != nil {
		return "", err
	}
	if err := protocol.ExpectOK(ctx, c.reader); err != nil {
		return "", err
	}
	return protocol.ReadString(ctx, c.reader)
}

// ProbeFile implements probe_file(path).
func (c *Client) ProbeFile(ctx context.Context, path string) (int64, error) {
	if err := c.sendOneArg(protocol.CmdProbeFile, path); err != nil {
		return 0, err
	}
	if err := protocol.ExpectOK(ctx, c.reader); err != nil {
		return 0, err
	}
	return protocol.ReadInt64(ctx, c.reader)
}

// PartialHash implements partial_hash(path, k).
func (c *Client) PartialHash(ctx context.Context, path string, k int64) (string, error) {
	if err := protocol.SendCommand(c.writer, protocol.CmdPartialHash); err != nil {
		return "", err
	}
	if err := protocol.SendString(c.writer, path); err != nil {
		return "", err
	}
	if err := protocol.SendInt64(c.writer, k); err != nil {
		return "", err
	}
	if err := protocol.FlushWriter(c.writer); err != nil {
		return "", err
	}
	if err := protocol.ExpectOK(ctx, c.reader); err != nil {
		return "", err
	}
	return protocol.ReadString(ctx, c.reader)
}

// OverwriteFile implements overwrite_file(path).
func (c *Client) OverwriteFile(ctx context.Context, path string) error {
	return c.call(ctx, protocol.CmdOverwriteFile, path)
}

// BlockCount implements block_count(path).
func (c *Client) BlockCount(ctx context.Context, path string) (int64, error) {
	if err := c.sendOneArg(protocol.CmdBlockCount, path); err != nil {
		return 0, err
	}
	if err := protocol.ExpectOK(ctx, c.reader); err != nil {
		return 0, err
	}
	return protocol.ReadInt64(ctx, c.reader)
}

// OpenReceiver implements open_receiver(tcp_mode).
func (c *Client) OpenReceiver(ctx context.Context, tcpMode bool) (ReceiverHandle, error) {
	if err := protocol.SendCommand(c.writer, protocol.CmdOpenReceiver); err != nil {
		return ReceiverHandle{}, err
	}
	if err := protocol.SendBool(c.writer, tcpMode); err != nil {
		return ReceiverHandle{}, err
	}
	if err := protocol.FlushWriter(c.writer); err != nil {
		return ReceiverHandle{}, err
	}
	if err := protocol.ExpectOK(ctx, c.reader); err != nil {
		return ReceiverHandle{}, err
	}

	id, err := protocol.ReadString(ctx, c.reader)
	if err != nil {
		return ReceiverHandle{}, err
	}
	port, err := protocol.ReadInt64(ctx, c.reader)
	if err != nil {
		return ReceiverHandle{}, err
	}
	nonce, err := protocol.ReadString(ctx, c.reader)
	if err != nil {
		return ReceiverHandle{}, err
	}

	return ReceiverHandle{ID: id, Port: int(port), Nonce: nonce}, nil
}

// StartReceive implements start_receive(receiver, path, block_count,
// file_size, content_key, compressed).
func (c *Client) StartReceive(ctx context.Context, handle ReceiverHandle, path string, blockCount, fileSize int64, contentKey string, compressed bool) error {
	if err := protocol.SendCommand(c.writer, protocol.CmdStartReceive); err != nil {
		return err
	}
	if err := protocol.SendString(c.writer, handle.ID); err != nil {
		return err
	}
	if err := protocol.SendString(c.writer, path); err != nil {
		return err
	}
	if err := protocol.SendInt64(c.writer, blockCount); err != nil {
		return err
	}
	if err := protocol.SendInt64(c.writer, fileSize); err != nil {
		return err
	}
	if err := protocol.SendString(c.writer, contentKey); err != nil {
		return err
	}
	if err := protocol.SendBool(c.writer, compressed); err != nil {
		return err
	}
	if err := protocol.FlushWriter(c.writer); err != nil {
		return err
	}
	return protocol.ExpectOK(ctx, c.reader)
}

// BytesReceived implements bytes_received(receiver).
func (c *Client) BytesReceived(ctx context.Context, handle ReceiverHandle) (int64, error) {
	if err := c.sendOneArg(protocol.CmdBytesReceived, handle.ID); err != nil {
		return 0, err
	}
	if err := protocol.ExpectOK(ctx, c.reader); err != nil {
		return 0, err
	}
	return protocol.ReadInt64(ctx, c.reader)
}

func (c *Client) sendOneArg(cmd byte, arg string) error {
	if err := protocol.SendCommand(c.writer, cmd); err != nil {
		return err
	}
	if err := protocol.SendString(c.writer, arg); err != nil {
		return err
	}
	return protocol.FlushWriter(c.writer)
}
