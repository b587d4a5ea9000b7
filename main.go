/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

Parcel is a resumable, parallel file transfer utility that bootstraps a
remote server process over a secure-shell tunnel, negotiates per-file
resume state against a content-addressed transaction log, and streams
files over a dedicated TCP or QUIC data channel.

The program operates in two modes:

1. Server Mode: hosts the ControlService and accepts data-channel
connections from receivers it spawns on demand.

2. Client Mode: walks a source file or directory tree and drives a
bounded worker pool of senders against the remote server.
*/
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parcel/internal/client"
	"parcel/internal/config"
	"parcel/internal/logging"
	"parcel/internal/server"
)

func main() {
	if err := logging.SetupLogger(); err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logging.LogConfig(cfg)
	setupSignalHandling()

	if cfg.IsServer {
		if err := server.Run(cfg); err != nil {
			logging.LogError(err, "server")
			os.Exit(1)
		}
	} else {
		if err := client.Run(cfg); err != nil {
			logging.LogError(err, "client")
			os.Exit(1)
		}
	}
}

// setupSignalHandling ensures an interrupted run exits promptly rather
// than leaving a tunnel or listener dangling.
func setupSignalHandling() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		slog.Info("received shutdown signal", "signal", sig)
		time.Sleep(200 * time.Millisecond)
		os.Exit(0)
	}()
}
