package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qepting91/trendit/internal/collector"
	"github.com/qepting91/trendit/internal/domain"
)

// Registry maps job IDs to live runners. It is the only owner of runner
// handles: the HTTP layer and the CLI go through it for every job operation.
type Registry struct {
	store       RecordStore
	client      collector.Client
	logger      *slog.Logger
	parallelism int
	retry       *collector.Retry

	mu      sync.Mutex
	runners map[string]*Runner
}

// Options tunes registry behavior. The zero value is usable.
type Options struct {
	// FacetParallelism bounds concurrent facets within one job. <= 0 means
	// sequential.
	FacetParallelism int
	// Retry overrides the fetch retry policy (tests use zero delays).
	Retry *collector.Retry
}

func NewRegistry(store RecordStore, client collector.Client, logger *slog.Logger, opts Options) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:       store,
		client:      client,
		logger:      logger,
		parallelism: opts.FacetParallelism,
		retry:       opts.Retry,
		runners:     map[string]*Runner{},
	}
}

// CreateJob validates the spec, persists the pending job and starts its
// runner in the background. Returns the caller-visible job ID.
func (reg *Registry) CreateJob(ctx context.Context, spec domain.JobSpec) (string, error) {
	if err := spec.Normalize(); err != nil {
		return "", err
	}

	job := domain.CollectionJob{
		ID:        uuid.NewString(),
		Spec:      spec,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := reg.store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	fetcher := collector.NewFetcher(reg.client, reg.logger)
	if reg.retry != nil {
		fetcher.WithRetry(*reg.retry)
	}
	runner := newRunner(job, reg.store, fetcher, reg.parallelism, reg.logger)

	// The job outlives the request; it gets its own context, cancelled only
	// through Cancel. The cancel func must be in place before the runner is
	// published so a racing Cancel through lookup always sees it.
	runCtx, cancel := context.WithCancel(context.Background())
	runner.cancel = cancel

	reg.mu.Lock()
	if _, exists := reg.runners[job.ID]; exists {
		reg.mu.Unlock()
		cancel()
		return "", domain.ErrJobExists
	}
	reg.runners[job.ID] = runner
	reg.mu.Unlock()

	go runner.run(runCtx)

	// Evict once terminal: the terminal state is persisted before Done closes,
	// so Status, Get and Wait keep answering from the store afterwards.
	go func() {
		<-runner.Done()
		reg.mu.Lock()
		delete(reg.runners, job.ID)
		reg.mu.Unlock()
	}()

	return job.ID, nil
}

// Status returns a snapshot. Live jobs answer from memory; finished ones
// that were evicted from the registry answer from the store.
func (reg *Registry) Status(ctx context.Context, id string) (domain.JobStatusSnapshot, error) {
	if runner := reg.lookup(id); runner != nil {
		return runner.Snapshot(), nil
	}
	job, err := reg.store.GetJob(ctx, id)
	if err != nil {
		return domain.JobStatusSnapshot{}, err
	}
	return domain.JobStatusSnapshot{
		JobID:             job.ID,
		Status:            job.Status,
		Progress:          job.Progress,
		TotalExpected:     job.TotalExpected,
		CollectedPosts:    job.CollectedPosts,
		CollectedComments: job.CollectedComments,
		ErrorMessage:      job.ErrorMessage,
	}, nil
}

// Get returns the full job record.
func (reg *Registry) Get(ctx context.Context, id string) (domain.CollectionJob, error) {
	if runner := reg.lookup(id); runner != nil {
		return runner.Job(), nil
	}
	return reg.store.GetJob(ctx, id)
}

// List returns recent jobs from the store, overlaying live state for jobs
// still in the registry.
func (reg *Registry) List(ctx context.Context, status *domain.JobStatus, limit int) ([]domain.CollectionJob, error) {
	jobs, err := reg.store.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	for i, job := range jobs {
		if runner := reg.lookup(job.ID); runner != nil {
			jobs[i] = runner.Job()
		}
	}
	return jobs, nil
}

// Cancel requests cancellation. Cancelling an already-terminal job is an
// acknowledged no-op, not an error.
func (reg *Registry) Cancel(ctx context.Context, id string) error {
	if runner := reg.lookup(id); runner != nil {
		runner.Cancel()
		return nil
	}
	// Not live: acknowledge if the job exists at all.
	_, err := reg.store.GetJob(ctx, id)
	return err
}

// Delete removes a terminal job and cascades deletion of its records.
// Deleting a running job is a conflict.
func (reg *Registry) Delete(ctx context.Context, id string) error {
	runner := reg.lookup(id)
	if runner != nil && !runner.terminal() {
		return domain.ErrJobRunning
	}
	if err := reg.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) && runner == nil {
			return domain.ErrNotFound
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	reg.mu.Lock()
	delete(reg.runners, id)
	reg.mu.Unlock()
	return nil
}

// Wait blocks until the given job reaches a terminal state. Used by the
// one-shot CLI path and tests. A job already evicted from the registry is
// resolved through the store.
func (reg *Registry) Wait(ctx context.Context, id string) error {
	if runner := reg.lookup(id); runner != nil {
		select {
		case <-runner.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	job, err := reg.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		// No live runner to wait on; only this process's runners are waitable.
		return domain.ErrNotFound
	}
	return nil
}

func (reg *Registry) lookup(id string) *Runner {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.runners[id]
}
