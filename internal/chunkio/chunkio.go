// Package chunkio wraps a connected byte-oriented channel with fixed-size
// chunk semantics, isolating the rest of the protocol from the difference
// between a reliable-stream transport (TCP) and a reliable-datagram
// transport (QUIC stream).
package chunkio

import (
	"encoding/binary"
	"io"
	"net"

	"parcel/internal/errors"
)

// Stream wraps a net.Conn (or any io.ReadWriteCloser) with send_exact /
// recv_into semantics matching ChunkedStream in the component design.
type Stream struct {
	conn io.ReadWriteCloser
	addr string
}

// New wraps conn. addr is used only for error context.
func New(conn io.ReadWriteCloser, addr string) *Stream {
	return &Stream{conn: conn, addr: addr}
}

// NewFromNetConn wraps a net.Conn, deriving the error-context address from
// the connection's remote address.
func NewFromNetConn(conn net.Conn) *Stream {
	return &Stream{conn: conn, addr: conn.RemoteAddr().String()}
}

// SendExact writes every byte in data, retrying the tail on partial
// writes until either all bytes are sent or the connection errors out.
func (s *Stream) SendExact(data []byte) error {
	written := 0
	for written < len(data) {
		n, err := s.conn.Write(data[written:])
		if err != nil {
			return errors.NewIoError("send_exact", s.addr, err)
		}
		written += n
	}
	return nil
}

// RecvInto fills buf as much as a single underlying read allows and
// returns the number of bytes filled. It returns (0, nil) only on clean
// end-of-stream, matching the recv_into(buf) -> bytes_filled contract.
func (s *Stream) RecvInto(buf []byte) (int, error) {
	n, err := s.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			return n, nil
		}
		return n, errors.NewIoError("recv_into", s.addr, err)
	}
	return n, nil
}

// RecvFull reads exactly len(buf) bytes, or returns an error (including a
// wrapped io.ErrUnexpectedEOF if the stream ends early). Used for the
// nonce handshake, which is not framed but is a fixed, known length.
func (s *Stream) RecvFull(buf []byte) error {
	_, err := io.ReadFull(s.conn, buf)
	if err != nil {
		return errors.NewIoError("recv_full", s.addr, err)
	}
	return nil
}

// SendFramed writes a 4-byte big-endian length prefix followed by data,
// used for the compressed data-channel mode where each wire chunk's size
// no longer matches CHUNK_SIZE.
func (s *Stream) SendFramed(data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if err := s.SendExact(lenBuf[:]); err != nil {
		return err
	}
	return s.SendExact(data)
}

// RecvFramed reads one length-prefixed frame written by SendFramed. A nil
// slice with a nil error signals a clean end of stream (the peer closed
// the connection between frames, matching RecvInto's EOF convention).
func (s *Stream) RecvFramed() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.NewIoError("recv_framed_len", s.addr, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if err := s.RecvFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
