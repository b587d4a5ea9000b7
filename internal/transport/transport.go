// Package transport provides the two data-channel modes described in the
// external interfaces: a classical TCP stream, and a reliable-datagram-
// over-unreliable-datagram transport (QUIC over UDP) with a self-signed
// certificate, for when tcp_mode is disabled.
package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"parcel/internal/config"
	"parcel/internal/errors"
)

// Conn is the minimal bidirectional stream contract both transport modes
// satisfy; chunkio.Stream wraps it for chunked reads/writes.
type Conn interface {
	io.ReadWriteCloser
}

// Listener accepts one data-channel connection per file, matching
// ServerReceiver's one-shot "accept exactly one incoming connection"
// contract.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Dialer opens one data-channel connection to a receiver's listening port.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// --- TCP mode ---

type tcpListener struct{ ln net.Listener }

// ListenTCP opens an ephemeral TCP listening port, as ServerReceiver's
// construct step requires.
func ListenTCP() (Listener, error) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, errors.NewConnectError("listen_tcp", "0.0.0.0:0", err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.NewConnectError("accept_tcp", l.ln.Addr().String(), r.err)
		}
		if err := optimizeTCPConnection(r.conn); err != nil {
			r.conn.Close()
			return nil, err
		}
		return r.conn, nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tcpListener) Close() error   { return l.ln.Close() }

type tcpDialer struct{}

// NewTCPDialer returns a Dialer that opens plain TCP connections.
func NewTCPDialer() Dialer { return tcpDialer{} }

func (tcpDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.NewConnectError("dial_tcp", addr, err)
	}
	if err := optimizeTCPConnection(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// optimizeTCPConnection tunes a TCP connection for sustained chunk
// streaming: keep-alive so a dead peer is detected instead of hanging a
// worker forever, Nagle's algorithm disabled since chunks are already
// buffered at CHUNK_SIZE granularity, and larger kernel buffers for
// high-throughput transfers. A non-TCP Conn (the QUIC path) is left
// untouched.
func optimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil
	}

	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}
	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("failed to set TCP keepalive period", "error", err)
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("failed to disable Nagle's algorithm", "error", err)
	}
	if err := tcpConn.SetReadBuffer(config.TCPBufferSize); err != nil {
		slog.Warn("failed to set TCP read buffer", "error", err)
	}
	if err := tcpConn.SetWriteBuffer(config.TCPBufferSize); err != nil {
		slog.Warn("failed to set TCP write buffer", "error", err)
	}
	return nil
}

// --- QUIC mode ---

type quicListener struct {
	ln *quic.Listener
}

// ListenQUIC opens an ephemeral UDP port carrying a QUIC listener with a
// self-signed certificate, for tcp_mode=false.
func ListenQUIC() (Listener, error) {
	tlsConf, err := generateTLSConfig()
	if err != nil {
		return nil, errors.NewConnectError("tls_config", "", err)
	}
	ln, err := quic.ListenAddr("0.0.0.0:0", tlsConf, nil)
	if err != nil {
		return nil, errors.NewConnectError("listen_quic", "0.0.0.0:0", err)
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, errors.NewConnectError("accept_quic", l.ln.Addr().String(), err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, errors.NewConnectError("accept_quic_stream", l.ln.Addr().String(), err)
	}
	return &quicStreamConn{conn: conn, stream: stream}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }
func (l *quicListener) Close() error   { return l.ln.Close() }

type quicDialer struct{}

// NewQUICDialer returns a Dialer that opens QUIC connections, trusting
// the receiver's self-signed certificate (the tunnel, not TLS, carries
// the authentication guarantee here — see the nonce handshake).
func NewQUICDialer() Dialer { return quicDialer{} }

func (quicDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"parcel"}}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, errors.NewConnectError("dial_quic", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.NewConnectError("open_quic_stream", addr, err)
	}
	return &quicStreamConn{conn: conn, stream: stream}, nil
}

// quicStreamConn adapts a quic.Stream plus its parent quic.Connection to
// the io.ReadWriteCloser Conn contract; closing it closes the stream and
// the connection together.
type quicStreamConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *quicStreamConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicStreamConn) Write(p []byte) (int, error) { return c.stream.Write(p) }
func (c *quicStreamConn) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "done")
}

func generateTLSConfig() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"parcel"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("0.0.0.0")},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	cert := tls.Certificate{
		Certificate: [][]byte{derBytes},
		PrivateKey:  priv,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"parcel"},
	}, nil
}
