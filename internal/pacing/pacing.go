// Package pacing drives the client's adaptive chunk pacing: a token-bucket
// Limiter seeded from a measured network profile, retuned mid-transfer by
// each worker's own throughput Tracker, replacing ad hoc time.Sleep chunk
// delays.
package pacing

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"parcel/internal/config"
	"parcel/internal/protocol"
)

// Limiter paces chunk sends at a byte rate derived from a network
// profile, and can be retuned as conditions change mid-transfer.
type Limiter struct {
	limiter *rate.Limiter
	burst   int
}

// New builds a Limiter seeded from profile.Bandwidth, burstable up to one
// chunk so the first chunk sent through it is not delayed.
func New(profile NetworkProfile, chunkSize int) *Limiter {
	burst := chunkSize
	if burst < 1 {
		burst = 1
	}
	bw := profile.Bandwidth
	if bw <= 0 {
		bw = config.DefaultBufferSize
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bw), burst),
		burst:   burst,
	}
}

// NewStatic builds a Limiter with a fixed byte rate, used when no network
// profile is available (the profiling dial failed).
func NewStatic(bytesPerSecond int, chunkSize int) *Limiter {
	burst := chunkSize
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst), burst: burst}
}

// Wait blocks until n bytes' worth of tokens are available or ctx is
// cancelled. n larger than the limiter's burst is chunked internally.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	for n > 0 {
		take := n
		if take > l.burst {
			take = l.burst
		}
		if err := l.limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// Retune replaces the limiter's rate, used when pacing is re-profiled
// mid-run.
func (l *Limiter) Retune(bytesPerSecond int64) {
	l.limiter.SetLimit(rate.Limit(bytesPerSecond))
}

// RetuneIn schedules Retune after delay without sleeping in the caller's
// goroutine.
func (l *Limiter) RetuneIn(delay time.Duration, bytesPerSecond int64) {
	time.AfterFunc(delay, func() { l.Retune(bytesPerSecond) })
}

// NetworkProfile summarizes a measured round trip to the control
// connection's peer, used to seed a Limiter's initial rate.
type NetworkProfile struct {
	RTT              time.Duration
	Bandwidth        int64 // estimated bytes/second
	OptimalChunkSize int64
}

// ProfileNetwork pings conn's peer over a throwaway connection to the same
// address, and derives a bandwidth estimate from the observed round-trip
// time (a bandwidth-delay-product heuristic, not a measured throughput —
// the client has nothing to saturate the link with yet at this point). A
// profiling failure returns conservative defaults rather than an error,
// since the caller always has NewStatic to fall back to.
func ProfileNetwork(conn net.Conn) NetworkProfile {
	profile := NetworkProfile{
		RTT:              100 * time.Millisecond,
		Bandwidth:        10 * 1024 * 1024, // 10 MB/s default
		OptimalChunkSize: config.DefaultChunkSize,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ProfileTimeout)
	defer cancel()

	addr := conn.RemoteAddr().String()
	network := conn.RemoteAddr().Network()

	profConn, err := net.DialTimeout(network, addr, 5*time.Second)
	if err != nil {
		slog.Warn("profiling dial failed, using default network profile", "error", err)
		return profile
	}
	defer profConn.Close()
	profConn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(profConn)
	writer := bufio.NewWriter(profConn)

	var totalRTT time.Duration
	successes := 0

pingLoop:
	for i := 0; i < config.PingCount; i++ {
		select {
		case <-ctx.Done():
			break pingLoop
		default:
		}

		start := time.Now()
		if err := protocol.SendCommand(writer, protocol.CmdPing); err != nil {
			continue
		}
		if err := protocol.FlushWriter(writer); err != nil {
			continue
		}
		response, err := protocol.ReadCommand(ctx, reader)
		if err != nil || response != protocol.CmdPong {
			continue
		}

		totalRTT += time.Since(start)
		successes++
		time.Sleep(100 * time.Millisecond)
	}

	if successes > 0 {
		profile.RTT = totalRTT / time.Duration(successes)
	}
	slog.Info("network profile measured", "rtt", profile.RTT, "successful_pings", successes)

	// Bandwidth has no direct measurement here (nothing was transferred),
	// so it's bucketed from RTT as a rough prior; Tracker.Observe replaces
	// it with a real measurement once chunks start flowing.
	switch {
	case profile.RTT < 10*time.Millisecond:
		profile.Bandwidth = 50 * 1024 * 1024
	case profile.RTT < 50*time.Millisecond:
		profile.Bandwidth = 20 * 1024 * 1024
	case profile.RTT < 100*time.Millisecond:
		profile.Bandwidth = 10 * 1024 * 1024
	default:
		profile.Bandwidth = 5 * 1024 * 1024
	}

	bdp := int64(float64(profile.Bandwidth) * profile.RTT.Seconds())
	switch {
	case bdp < 512*1024:
		bdp = 512 * 1024
	case bdp > 8*1024*1024:
		bdp = 8 * 1024 * 1024
	}
	if profile.RTT > 50*time.Millisecond {
		if scaled := int64(float64(bdp) * 1.5); scaled <= 8*1024*1024 {
			bdp = scaled
		}
	}
	profile.OptimalChunkSize = bdp

	return profile
}

// Tracker observes one worker's own chunk throughput and derives the rate
// a Limiter should be retuned to. It keeps an exponential moving average
// so a single slow or fast chunk doesn't whipsaw the rate, with a bounded
// congestion multiplier to damp the response. Each Sender owns its own
// Tracker — its fields are unguarded, so sharing one across the worker
// pool's goroutines would race; the Limiter it feeds is what's actually
// shared, and rate.Limiter is safe for concurrent use.
type Tracker struct {
	lastChunkTime time.Time
	avgRate       float64 // bytes per second
	delayFactor   float64
}

// NewTracker returns a Tracker ready to observe chunk completions.
func NewTracker() *Tracker {
	return &Tracker{lastChunkTime: time.Now(), delayFactor: 1.0}
}

// Observe records one chunk send of n bytes and returns the byte rate a
// shared Limiter should be retuned to. It returns 0 when too little time
// has passed since the last call to measure a meaningful rate.
func (t *Tracker) Observe(n int64) float64 {
	now := time.Now()
	elapsed := now.Sub(t.lastChunkTime)
	t.lastChunkTime = now
	if elapsed <= 0 {
		return 0
	}

	observed := float64(n) / elapsed.Seconds()
	prevFactor := t.delayFactor
	if t.avgRate == 0 {
		t.avgRate = observed
	} else {
		t.avgRate = 0.7*t.avgRate + 0.3*observed
	}

	switch {
	case observed < 0.7*t.avgRate:
		t.delayFactor *= 1.2
	case observed > 1.2*t.avgRate:
		t.delayFactor *= 0.8
	}
	if t.delayFactor < 0.1 {
		t.delayFactor = 0.1
	} else if t.delayFactor > 10 {
		t.delayFactor = 10
	}

	if t.delayFactor != prevFactor {
		verb := "improving"
		if t.delayFactor > prevFactor {
			verb = "congestion detected"
		}
		slog.Info("adaptive pacing: "+verb,
			"rate_mbps", fmt.Sprintf("%.2f", observed/(1024*1024)),
			"avg_mbps", fmt.Sprintf("%.2f", t.avgRate/(1024*1024)),
			"delay_factor", fmt.Sprintf("%.1f", t.delayFactor))
	}

	return t.avgRate / t.delayFactor
}
