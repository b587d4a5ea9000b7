// Package client orchestrates one client-side run: bootstrap the remote
// server over a secure-shell tunnel, then drive a TransferDriver over
// it.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"parcel/internal/config"
	"parcel/internal/control"
	"parcel/internal/driver"
	"parcel/internal/errors"
	"parcel/internal/logging"
	"parcel/internal/pacing"
	"parcel/internal/progress"
	"parcel/internal/sender"
	"parcel/internal/transport"
	"parcel/internal/tunnel"
)

// Run bootstraps the remote server, negotiates the destination path,
// and drives the transfer to completion.
func Run(cfg *config.Config) error {
	slog.Info("starting client", "remote", cfg.RemoteHost, "source", cfg.FileSrc, "dest", cfg.FileDest)

	ctx := context.Background()

	t, err := tunnel.Open(ctx, cfg.RemoteHost, cfg.SSHKeyPath, cfg.RemoteBinPath)
	if err != nil {
		return err
	}
	defer t.Close()

	setupClient, setupCloser, err := dialControl(t.LocalAddr(), cfg.BufferSize)
	if err != nil {
		return err
	}
	defer setupCloser.Close()

	destRoot := cfg.FileDest
	if cfg.Recursive {
		if err := setupClient.CreateDir(ctx, destRoot); err != nil {
			return err
		}
	} else {
		resolved, err := setupClient.ValidatePath(ctx, cfg.FileDest, cfg.FileSrc)
		if err != nil {
			return err
		}
		destRoot = resolved
	}

	counters := progress.NewCounters()
	var reporter *progress.Reporter
	if cfg.CopyStatus {
		reporter = progress.NewReporter(counters)
		reporter.Start()
	}

	var limiter *pacing.Limiter
	if cfg.AdaptiveDelay {
		limiter = buildPacingLimiter(t.LocalAddr(), cfg)
	}

	newSender := func() (*sender.Sender, io.Closer, error) {
		client, closer, err := dialControl(t.LocalAddr(), cfg.BufferSize)
		if err != nil {
			return nil, nil, err
		}
		dialer := transport.NewTCPDialer()
		if !cfg.TCPMode {
			dialer = transport.NewQUICDialer()
		}
		s := sender.New(client, dialer, t.DataHost(), cfg.ChunkSize, cfg.TCPMode, !cfg.DisableVerify)
		s.Compress = cfg.Compression
		s.Limiter = limiter
		if cfg.AdaptiveDelay {
			// Each worker tracks its own observed throughput; the shared
			// Limiter it retunes is safe for concurrent callers.
			s.Stats = pacing.NewTracker()
		}
		return s, closer, nil
	}

	d := driver.New(setupClient, newSender, cfg.Parallelism, counters)
	defer d.Close()

	start := time.Now()
	if err := d.Start(ctx, cfg.FileSrc, destRoot, cfg.Recursive, cfg.FollowLinks); err != nil {
		return err
	}
	d.Wait()

	if reporter != nil {
		reporter.Stop()
	}

	elapsed := time.Since(start)
	snapshot := counters.Load()

	if !d.IsTransferSuccess() {
		for _, ferr := range d.Failures() {
			slog.Error("job failed", "error", ferr)
		}
		fmt.Printf("Failed to transfer: %d/%d files succeeded\n", snapshot.FilesTransferred, snapshot.FilesEnumerated)
		return errors.NewIoError("transfer", cfg.FileSrc, fmt.Errorf("%d of %d files failed", snapshot.FilesEnumerated-snapshot.FilesTransferred, snapshot.FilesEnumerated))
	}

	logging.LogTransferComplete(cfg.FileSrc, snapshot.BytesAcknowledged, elapsed)
	fmt.Printf("Successfully transfered %d file(s) (%.2f MB) in %s\n",
		snapshot.FilesTransferred, float64(snapshot.BytesAcknowledged)/1024/1024, elapsed.Round(time.Millisecond))

	return nil
}

// connCloser adapts a net.Conn to io.Closer for the driver's per-worker
// connection bookkeeping.
type connCloser struct {
	conn net.Conn
}

func (c *connCloser) Close() error {
	return c.conn.Close()
}

// buildPacingLimiter profiles the control connection's round-trip time to
// estimate bandwidth, then seeds a Limiter from it. A profiling failure
// falls back to a conservative static rate rather than leaving the
// transfer unpaced.
func buildPacingLimiter(controlAddr string, cfg *config.Config) *pacing.Limiter {
	conn, err := net.Dial("tcp", controlAddr)
	if err != nil {
		slog.Warn("network profiling dial failed, using static pacing", "error", err)
		return pacing.NewStatic(int(config.DefaultBufferSize), int(cfg.ChunkSize))
	}
	defer conn.Close()

	profile := pacing.ProfileNetwork(conn)
	slog.Info("network profile", "rtt", profile.RTT, "bandwidth", profile.Bandwidth)
	return pacing.New(profile, int(cfg.ChunkSize))
}

func dialControl(addr string, bufferSize int) (*control.Client, io.Closer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, errors.NewConnectError("dial_control", addr, err)
	}

	reader := bufio.NewReaderSize(conn, bufferSize)
	writer := bufio.NewWriterSize(conn, bufferSize)

	return control.NewClient(reader, writer), &connCloser{conn: conn}, nil
}
