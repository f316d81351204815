package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/trendit/internal/collector"
	"github.com/qepting91/trendit/internal/domain"
)

func blockingClient() *scriptedClient {
	return &scriptedClient{
		listPosts: func(ctx context.Context, _ domain.Facet, _ string, _ int) (collector.Page, error) {
			<-ctx.Done()
			return collector.Page{}, ctx.Err()
		},
	}
}

func instantClient() *scriptedClient {
	return &scriptedClient{
		listPosts: func(_ context.Context, facet domain.Facet, _ string, _ int) (collector.Page, error) {
			return collector.Page{Posts: facetPosts(facet, 2)}, nil
		},
	}
}

func TestStatusUnknownJob(t *testing.T) {
	reg, _ := newTestRegistry(t, instantClient())
	_, err := reg.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelUnknownJob(t *testing.T) {
	reg, _ := newTestRegistry(t, instantClient())
	assert.ErrorIs(t, reg.Cancel(context.Background(), "nope"), domain.ErrNotFound)
}

func TestCancelTerminalJobIsAcknowledged(t *testing.T) {
	reg, _ := newTestRegistry(t, instantClient())
	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 2})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	require.True(t, snap.Status.Terminal())

	// Idempotent: cancelling a finished job succeeds without changing it.
	require.NoError(t, reg.Cancel(context.Background(), id))
	after, err := reg.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, snap.Status, after.Status)
}

func TestDeleteRunningJobConflicts(t *testing.T) {
	reg, _ := newTestRegistry(t, blockingClient())
	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}})
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Delete(context.Background(), id), domain.ErrJobRunning)

	require.NoError(t, reg.Cancel(context.Background(), id))
	waitFor(t, reg, id)

	require.NoError(t, reg.Delete(context.Background(), id))
	_, err = reg.Status(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteUnknownJob(t *testing.T) {
	reg, _ := newTestRegistry(t, instantClient())
	assert.ErrorIs(t, reg.Delete(context.Background(), "nope"), domain.ErrNotFound)
}

func TestDeleteCascadesRecords(t *testing.T) {
	reg, store := newTestRegistry(t, instantClient())
	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 2})
	require.NoError(t, err)
	waitFor(t, reg, id)

	posts, _, err := store.CountRecords(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 2, posts)

	require.NoError(t, reg.Delete(context.Background(), id))

	posts, comments, err := store.CountRecords(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, posts)
	assert.Zero(t, comments)
}

func TestListOverlaysLiveState(t *testing.T) {
	reg, _ := newTestRegistry(t, blockingClient())
	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}})
	require.NoError(t, err)

	// The store may still say pending; the overlay reports the live runner.
	deadline := time.Now().Add(5 * time.Second)
	for {
		jobs, err := reg.List(context.Background(), nil, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, id, jobs[0].ID)
		if jobs[0].Status == domain.StatusRunning {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never reported running")
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, reg.Cancel(context.Background(), id))
	waitFor(t, reg, id)
}

func TestRunnerCancellableAsSoonAsVisible(t *testing.T) {
	reg, _ := newTestRegistry(t, blockingClient())
	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}})
	require.NoError(t, err)

	// Anyone who can see the runner must be able to cancel it.
	runner := reg.lookup(id)
	require.NotNil(t, runner)
	require.NotNil(t, runner.cancel)

	require.NoError(t, reg.Cancel(context.Background(), id))
	snap := waitFor(t, reg, id)
	assert.Equal(t, domain.StatusCancelled, snap.Status)
}

func TestTerminalRunnerEvicted(t *testing.T) {
	reg, _ := newTestRegistry(t, instantClient())
	id, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 2})
	require.NoError(t, err)

	snap := waitFor(t, reg, id)
	require.Equal(t, domain.StatusCompleted, snap.Status)

	deadline := time.Now().Add(5 * time.Second)
	for reg.lookup(id) != nil {
		require.True(t, time.Now().Before(deadline), "terminal runner never evicted")
		time.Sleep(time.Millisecond)
	}

	// The job remains fully addressable through the store.
	after, err := reg.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, after.Status)
	assert.Equal(t, 2, after.CollectedPosts)
	require.NoError(t, reg.Wait(context.Background(), id), "waiting on an evicted terminal job resolves immediately")
}

func TestConcurrentJobsShareNothing(t *testing.T) {
	reg, store := newTestRegistry(t, instantClient())

	id1, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"golang"}, PostLimit: 2})
	require.NoError(t, err)
	id2, err := reg.CreateJob(context.Background(), domain.JobSpec{Subreddits: []string{"netsec"}, PostLimit: 2})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	snap1 := waitFor(t, reg, id1)
	snap2 := waitFor(t, reg, id2)
	assert.Equal(t, domain.StatusCompleted, snap1.Status)
	assert.Equal(t, domain.StatusCompleted, snap2.Status)
	assert.Equal(t, 2, snap1.CollectedPosts)
	assert.Equal(t, 2, snap2.CollectedPosts)

	p1, _, err := store.CountRecords(context.Background(), id1)
	require.NoError(t, err)
	p2, _, err := store.CountRecords(context.Background(), id2)
	require.NoError(t, err)
	assert.Equal(t, 2, p1)
	assert.Equal(t, 2, p2)
}
