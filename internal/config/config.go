package config

import (
	"flag"
	"time"

	"parcel/internal/errors"
)

// Constants for default values
const (
	// DefaultChunkSize is CHUNK_SIZE: the unit of streaming reads/writes
	// and of resume granularity.
	DefaultChunkSize = 64 * 1024 // 64KiB

	// NonceSize is the number of decimal digits in a per-connection nonce.
	NonceSize = 16

	DefaultBufferSize  = 512 * 1024 // 512KB
	DefaultTimeout     = 2 * time.Minute
	DefaultRetries     = 5
	DefaultChunkDelay  = 10 * time.Millisecond
	DefaultMinDelay    = 1 * time.Millisecond
	DefaultMaxDelay    = 100 * time.Millisecond
	DefaultListenAddr  = "0.0.0.0:9009"
	DefaultParallelism = 3

	// Network constants
	TCPBufferSize  = 1024 * 1024     // 1MB
	HashBufferSize = 4 * 1024 * 1024 // 4MB
	ProfileTimeout = 5 * time.Second
	PingCount      = 5

	// File system constants
	TransactionLogName = "parcel.transactions.yaml"
	LogDirPerms        = 0755
	FilePerms          = 0644
	DirPerms           = 0755

	ControlDialTimeout  = 15 * time.Second
	ReceiverIdleTimeout = 5 * time.Minute
)

// Config holds all configuration parameters for the application. A single
// binary serves both the client and server role, selected by IsServer.
type Config struct {
	// Server mode settings
	IsServer      bool
	ListenAddress string

	// Client mode settings — one (source, destination) transfer spec
	RemoteHost string // user@host[:port], tunneled over SSH
	FileSrc    string
	FileDest   string

	// Transfer behavior
	TCPMode       bool // true: plain TCP data channel; false: QUIC-over-UDP
	Recursive     bool
	FollowLinks   bool
	DisableVerify bool
	CopyStatus    bool
	Verbose       bool
	Timer         bool
	Parallelism   int
	Compression   bool

	// Common tuning parameters
	ChunkSize     int64
	BufferSize    int
	Timeout       time.Duration
	Retries       int
	ChunkDelay    time.Duration
	AdaptiveDelay bool
	MinDelay      time.Duration
	MaxDelay      time.Duration

	// SSH tunnel bootstrap (external collaborator, spec §6)
	SSHKeyPath    string
	RemoteBinPath string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.NewConfigError("validate", "chunk size must be positive")
	}
	if c.BufferSize <= 0 {
		return errors.NewConfigError("validate", "buffer size must be positive")
	}
	if c.Parallelism <= 0 {
		return errors.NewConfigError("validate", "parallelism must be positive")
	}
	if c.Retries < 0 {
		return errors.NewConfigError("validate", "retries cannot be negative")
	}
	if c.Timeout <= 0 {
		return errors.NewConfigError("validate", "timeout must be positive")
	}
	if c.AdaptiveDelay && (c.MinDelay <= 0 || c.MaxDelay <= 0 || c.MinDelay > c.MaxDelay) {
		return errors.NewConfigError("validate", "invalid adaptive delay configuration")
	}

	if !c.IsServer {
		if c.RemoteHost == "" {
			return errors.NewConfigError("validate", "remote host is required in client mode")
		}
		if c.FileSrc == "" {
			return errors.NewConfigError("validate", "source path is required in client mode")
		}
		if c.FileDest == "" {
			return errors.NewConfigError("validate", "destination path is required in client mode")
		}
	}

	return nil
}

// ParseFlags parses command line arguments and returns a Config.
//
// Client usage: parcel [flags] user@host[:port] file_src file_dest
// Server usage: parcel -server [-listen addr]
func ParseFlags() (*Config, error) {
	// Server flags
	isServer := flag.Bool("server", false, "Run in server mode")
	listenAddr := flag.String("listen", DefaultListenAddr, "Address to listen on (server mode)")

	// Transfer behavior flags
	tcpMode := flag.Bool("tcp", true, "Use a plain TCP data channel (false: QUIC-over-UDP)")
	recursive := flag.Bool("recursive", false, "Transfer a directory tree")
	followLinks := flag.Bool("follow-links", false, "Follow symlinks while enumerating a recursive source")
	disableVerify := flag.Bool("disable-verify", false, "Skip whole-file hash verification after transfer")
	copyStatus := flag.Bool("copy-status", false, "Print a live transfer status line")
	verbose := flag.Bool("verbose", false, "Verbose mode (accepted; job failures are logged whether or not it is set)")
	timer := flag.Bool("timer", false, "Timer mode (accepted; a successful run prints its elapsed time whether or not it is set)")
	parallelism := flag.Int("parallelism", DefaultParallelism, "Number of concurrent file transfers")
	compression := flag.Bool("compress", false, "Compress chunk payloads opportunistically")

	// Common tuning flags
	chunkSize := flag.Int64("chunk", DefaultChunkSize, "Chunk size in bytes")
	bufferSize := flag.Int("buffer", DefaultBufferSize, "Buffer size in bytes (512KB default)")
	timeout := flag.Duration("timeout", DefaultTimeout, "Operation timeout (validated only; no operation is bounded by it)")
	retries := flag.Int("retries", DefaultRetries, "Retry count (validated only; a failed chunk is not retried)")
	chunkDelay := flag.Duration("delay", DefaultChunkDelay, "Chunk delay (accepted; chunk sends are not delayed by it)")
	adaptiveDelay := flag.Bool("adaptive", false, "Use adaptive delay based on measured network conditions")
	minDelay := flag.Duration("min-delay", DefaultMinDelay, "Minimum adaptive delay (checked against -max-delay; not applied to pacing)")
	maxDelay := flag.Duration("max-delay", DefaultMaxDelay, "Maximum adaptive delay (checked against -min-delay; not applied to pacing)")

	sshKeyPath := flag.String("identity", "", "Path to an SSH private key (defaults to ssh-agent)")
	remoteBinPath := flag.String("remote-bin", "parcel", "Path to the parcel binary on the remote host")

	flag.Parse()

	cfg := &Config{
		IsServer:      *isServer,
		ListenAddress: *listenAddr,
		TCPMode:       *tcpMode,
		Recursive:     *recursive,
		FollowLinks:   *followLinks,
		DisableVerify: *disableVerify,
		CopyStatus:    *copyStatus,
		Verbose:       *verbose,
		Timer:         *timer,
		Parallelism:   *parallelism,
		Compression:   *compression,
		ChunkSize:     *chunkSize,
		BufferSize:    *bufferSize,
		Timeout:       *timeout,
		Retries:       *retries,
		ChunkDelay:    *chunkDelay,
		AdaptiveDelay: *adaptiveDelay,
		MinDelay:      *minDelay,
		MaxDelay:      *maxDelay,
		SSHKeyPath:    *sshKeyPath,
		RemoteBinPath: *remoteBinPath,
	}

	if !cfg.IsServer {
		args := flag.Args()
		if len(args) != 3 {
			return nil, errors.NewConfigError("parse_flags", "usage: parcel [flags] user@host[:port] file_src file_dest")
		}
		cfg.RemoteHost = args[0]
		cfg.FileSrc = args[1]
		cfg.FileDest = args[2]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
