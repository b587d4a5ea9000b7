// Package tunnel bootstraps the remote server process over a secure
// shell connection and forwards a local port to the server's control
// listener, implementing the "remote process bootstrap over a secure
// shell" external collaborator (see spec's Out of scope / External
// Interfaces).
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"parcel/internal/errors"
)

// Tunnel holds an open SSH connection to the remote host plus a local
// forwarding listener onto the server's control port.
type Tunnel struct {
	client     *ssh.Client
	local      net.Listener
	remoteAddr string
	dataHost   string
}

// Open dials user@host[:port] (default port 22), authenticating via the
// running ssh-agent or, if keyPath is set, a private key file. It starts
// remoteBin in server mode on the far end and forwards a local ephemeral
// port to the control listener it reports back over its stdout.
func Open(ctx context.Context, remoteHost, keyPath, remoteBin string) (*Tunnel, error) {
	user, host, port := parseRemoteHost(remoteHost)

	authMethods, err := authMethods(keyPath)
	if err != nil {
		return nil, errors.NewConnectError("ssh_auth", host, err)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errors.NewConnectError("ssh_dial", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errors.NewConnectError("ssh_session", addr, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, errors.NewConnectError("ssh_stdout", addr, err)
	}

	if err := session.Start(fmt.Sprintf("%s -server", remoteBin)); err != nil {
		client.Close()
		return nil, errors.NewConnectError("ssh_start_server", addr, err)
	}

	remoteControlAddr, err := readServerAddr(ctx, stdout)
	if err != nil {
		client.Close()
		return nil, err
	}

	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, errors.NewConnectError("local_listen", "127.0.0.1:0", err)
	}

	t := &Tunnel{client: client, local: localLn, remoteAddr: remoteControlAddr, dataHost: host}
	go t.forwardLoop()

	return t, nil
}

// LocalAddr is the local address the control client should dial; traffic
// sent there is forwarded over SSH to the remote control listener.
func (t *Tunnel) LocalAddr() string {
	return t.local.Addr().String()
}

// DataHost is the remote hostname a ClientSender dials directly (outside
// the SSH tunnel) to reach a ServerReceiver's ephemeral data-channel
// port, per §4.6's "connect a fresh data channel to (server-hostname,
// port)".
func (t *Tunnel) DataHost() string {
	return t.dataHost
}

// Close tears down the forwarding listener and the SSH connection.
func (t *Tunnel) Close() error {
	_ = t.local.Close()
	return t.client.Close()
}

func (t *Tunnel) forwardLoop() {
	for {
		localConn, err := t.local.Accept()
		if err != nil {
			return
		}
		go t.forwardConn(localConn)
	}
}

func (t *Tunnel) forwardConn(localConn net.Conn) {
	defer localConn.Close()

	remoteConn, err := t.client.Dial("tcp", t.remoteAddr)
	if err != nil {
		return
	}
	defer remoteConn.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(remoteConn, localConn); done <- struct{}{} }()
	go func() { io.Copy(localConn, remoteConn); done <- struct{}{} }()
	<-done
}

// readServerAddr reads the first line of the remote server's stdout,
// which the server prints as "listening <host:port>" once its control
// listener is bound.
func readServerAddr(ctx context.Context, r io.Reader) (string, error) {
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil {
			errCh <- err
			return
		}
		lineCh <- strings.TrimSpace(line)
	}()

	select {
	case line := <-lineCh:
		const prefix = "listening "
		if !strings.HasPrefix(line, prefix) {
			return "", errors.NewProtocolError("read_server_addr", "unexpected server banner: "+line, nil)
		}
		return strings.TrimPrefix(line, prefix), nil
	case err := <-errCh:
		return "", errors.NewConnectError("read_server_addr", "", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func authMethods(keyPath string) ([]ssh.AuthMethod, error) {
	if keyPath != "" {
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("no identity file given and SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	ag := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, nil
}

// parseRemoteHost splits "user@host[:port]" into its parts, defaulting to
// the current OS user and port 22.
func parseRemoteHost(remoteHost string) (user, host string, port int) {
	user = os.Getenv("USER")
	port = 22

	rest := remoteHost
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		user = rest[:at]
		rest = rest[at+1:]
	}
	if colon := strings.LastIndexByte(rest, ':'); colon >= 0 {
		if p, err := strconv.Atoi(rest[colon+1:]); err == nil {
			port = p
			rest = rest[:colon]
		}
	}
	host = rest
	return
}
