// Package server hosts the ControlService listener: the long-lived
// process a tunnel connection's remote command starts, printing a
// banner line the tunnel reads back to learn the listening address.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"parcel/internal/config"
	"parcel/internal/control"
	"parcel/internal/errors"
)

// Run starts the ControlService and blocks accepting connections until
// the process is killed. Per the environment contract, the server
// operates out of the user's home directory so relative destination
// paths resolve predictably regardless of how it was launched.
func Run(cfg *config.Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home, err = os.Getwd()
		if err != nil {
			return errors.NewConfigError("run", "cannot determine a working directory")
		}
	} else if cerr := os.Chdir(home); cerr != nil {
		slog.Warn("failed to chdir to home directory", "error", cerr)
	}

	logPath := filepath.Join(home, config.TransactionLogName)
	svc, err := control.NewService(logPath, cfg.ChunkSize)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return errors.NewConnectError("listen", cfg.ListenAddress, err)
	}
	defer listener.Close()

	// The tunnel's remote command scrapes stdout for this exact line to
	// learn which address to forward local connections to.
	fmt.Printf("listening %s\n", listener.Addr().String())
	slog.Info("control service listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			slog.Error("accept failed", "error", err)
			continue
		}
		go serveConn(svc, conn, cfg)
	}
}

func serveConn(svc *control.Service, conn net.Conn, cfg *config.Config) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, cfg.BufferSize)
	writer := bufio.NewWriterSize(conn, cfg.BufferSize)

	if err := svc.Serve(context.Background(), reader, writer); err != nil {
		slog.Debug("control connection ended", "remote_addr", conn.RemoteAddr().String(), "error", err)
	}
}
