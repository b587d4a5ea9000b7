// Package driver implements TransferDriver: the client entry point that
// walks a source tree, pre-creates destination directories, and fans
// jobs out to a bounded pool of ClientSender workers.
package driver

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"parcel/internal/config"
	"parcel/internal/control"
	"parcel/internal/filesystem"
	"parcel/internal/progress"
	"parcel/internal/sender"
)

// SenderFactory builds one Sender per pool worker, along with the
// underlying connection Close should release when the run ends.
type SenderFactory func() (*sender.Sender, io.Closer, error)

// Driver is one TransferDriver run.
type Driver struct {
	client      *control.Client
	newSender   SenderFactory
	parallelism int
	counters    *progress.Counters

	wg       sync.WaitGroup
	mu       sync.Mutex
	failures []error
	closers  []io.Closer
}

// New builds a Driver. client is used for the pre-dispatch directory
// creation pass; newSender is called once per pool worker to obtain a
// Sender bound to its own control connection.
func New(client *control.Client, newSender SenderFactory, parallelism int, counters *progress.Counters) *Driver {
	if parallelism <= 0 {
		parallelism = config.DefaultParallelism
	}
	return &Driver{
		client:      client,
		newSender:   newSender,
		parallelism: parallelism,
		counters:    counters,
	}
}

// Start enumerates sourceRoot, pre-creates every destination directory in
// shallowest-first order, and launches the worker pool on a background
// goroutine. It returns once the job list is known; transfer itself runs
// concurrently.
func (d *Driver) Start(ctx context.Context, sourceRoot, destRoot string, recursive, followLinks bool) error {
	jobs, err := d.planJobs(ctx, sourceRoot, destRoot, recursive, followLinks)
	if err != nil {
		return err
	}

	d.counters.FilesEnumerated.Store(int64(len(jobs)))
	for _, job := range jobs {
		info, err := filesystem.GetFileInfo(job.SourcePath)
		if err != nil {
			return err
		}
		d.counters.BytesExpected.Add(info.Size)
	}

	d.wg.Add(1)
	go d.run(ctx, jobs)
	return nil
}

func (d *Driver) planJobs(ctx context.Context, sourceRoot, destRoot string, recursive, followLinks bool) ([]sender.Job, error) {
	if !recursive {
		return []sender.Job{{SourcePath: sourceRoot, ServerPath: destRoot}}, nil
	}

	rels, err := filesystem.EnumerateTree(sourceRoot, followLinks)
	if err != nil {
		return nil, err
	}

	for _, dir := range filesystem.DirsOf(destRoot, rels) {
		if err := d.client.CreateDir(ctx, dir); err != nil {
			return nil, err
		}
	}

	jobs := make([]sender.Job, 0, len(rels))
	for _, rel := range rels {
		jobs = append(jobs, sender.Job{
			SourcePath: filepath.Join(sourceRoot, rel),
			ServerPath: filepath.Join(destRoot, rel),
		})
	}
	return jobs, nil
}

func (d *Driver) run(ctx context.Context, jobs []sender.Job) {
	defer d.wg.Done()

	jobCh := make(chan sender.Job)
	var workers sync.WaitGroup

	for i := 0; i < d.parallelism; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()

			s, closer, err := d.newSender()
			if err != nil {
				d.recordFailure(err)
				return
			}
			if closer != nil {
				d.mu.Lock()
				d.closers = append(d.closers, closer)
				d.mu.Unlock()
			}

			for job := range jobCh {
				d.runJob(ctx, s, job)
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	workers.Wait()
}

// runJob sends one job to completion. A failed job is recorded but never
// aborts its siblings.
func (d *Driver) runJob(ctx context.Context, s *sender.Sender, job sender.Job) {
	result, err := s.Send(ctx, job)
	d.counters.FilesProcessed.Add(1)
	if err != nil {
		d.recordFailure(err)
		return
	}
	d.counters.FilesTransferred.Add(1)
	d.counters.BytesAcknowledged.Add(result.BytesSent)
}

func (d *Driver) recordFailure(err error) {
	d.mu.Lock()
	d.failures = append(d.failures, err)
	d.mu.Unlock()
}

// IsTransferFinished reports whether every job has reached a terminal
// state.
func (d *Driver) IsTransferFinished() bool {
	return d.counters.IsFinished()
}

// IsTransferSuccess reports whether every processed job succeeded.
func (d *Driver) IsTransferSuccess() bool {
	return d.counters.IsSuccess()
}

// Failures returns the errors recorded by failed jobs, in completion
// order. The slice is a snapshot; callers should call it after Wait.
func (d *Driver) Failures() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]error, len(d.failures))
	copy(out, d.failures)
	return out
}

// Wait blocks until the worker pool drains, acting as the run's join
// handle.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Close releases every per-worker control connection. Best-effort: the
// first error is returned, but every closer is still attempted.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
