package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	deliveries chan Delivery

	mu        sync.Mutex
	completed []string
	failed    map[string]error
	progress  map[string][]int
	retry     bool
	stalled   []Delivery
	reclaims  int
}

func newFakeBroker(retry bool, deliveries ...Delivery) *fakeBroker {
	ch := make(chan Delivery, len(deliveries))
	for _, delivery := range deliveries {
		ch <- delivery
	}
	return &fakeBroker{
		deliveries: ch,
		failed:     make(map[string]error),
		progress:   make(map[string][]int),
		retry:      retry,
	}
}

func (b *fakeBroker) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case delivery := <-b.deliveries:
		return &delivery, nil
	case <-time.After(wait):
		return nil, nil
	}
}

func (b *fakeBroker) Complete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, id)
	return nil
}

func (b *fakeBroker) Fail(ctx context.Context, id string, cause error) (FailOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed[id] = cause
	return FailOutcome{Retrying: b.retry && !IsPermanent(cause), Delay: time.Second, Attempts: 1}, nil
}

func (b *fakeBroker) UpdateProgress(ctx context.Context, id string, percent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress[id] = append(b.progress[id], percent)
	return nil
}

func (b *fakeBroker) Heartbeat(ctx context.Context, id string) error {
	return nil
}

func (b *fakeBroker) ReclaimStalled(ctx context.Context, lease time.Duration) ([]Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reclaims++
	stalled := b.stalled
	b.stalled = nil
	return stalled, nil
}

func deliveries(ids ...string) []Delivery {
	out := make([]Delivery, 0, len(ids))
	for _, id := range ids {
		out = append(out, Delivery{ID: id, Job: sampleJob(id), Attempt: 1, MaxAttempts: DefaultAttempts})
	}
	return out
}

func runWorker(t *testing.T, worker *Worker, until func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	require.Eventually(t, until, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerBoundsConcurrency(t *testing.T) {
	broker := newFakeBroker(false, deliveries("a", "b", "c", "d", "e", "f", "g")...)
	statuses := NewMemoryStatusStore()

	var running, peak atomic.Int32
	handler := func(ctx context.Context, delivery Delivery, progress *Progress) error {
		current := running.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		progress.ReportProgress(ctx, 50)
		running.Add(-1)
		return nil
	}

	worker := NewWorker(broker, statuses, handler, WorkerConfig{Concurrency: 3, PollTimeout: 10 * time.Millisecond, Logger: zerolog.Nop()})
	runWorker(t, worker, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.completed) == 7
	})

	require.LessOrEqual(t, peak.Load(), int32(3))
	require.GreaterOrEqual(t, peak.Load(), int32(2))

	status, err := statuses.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, status.State)
	require.Equal(t, 100, status.Progress)
	require.Equal(t, []int{50}, broker.progress["a"])
}

func TestWorkerRecordsRetryAndPermanentFailures(t *testing.T) {
	broker := newFakeBroker(true, deliveries("retry", "fatal")...)
	statuses := NewMemoryStatusStore()

	handler := func(ctx context.Context, delivery Delivery, progress *Progress) error {
		if delivery.ID == "fatal" {
			return Permanent(errors.New("assignment not found"))
		}
		return errors.New("database unavailable")
	}

	worker := NewWorker(broker, statuses, handler, WorkerConfig{PollTimeout: 10 * time.Millisecond, Logger: zerolog.Nop()})
	runWorker(t, worker, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.failed) == 2
	})

	retry, err := statuses.Get(context.Background(), "retry")
	require.NoError(t, err)
	require.Equal(t, StateQueued, retry.State)
	require.Equal(t, "database unavailable", retry.Error)

	fatal, err := statuses.Get(context.Background(), "fatal")
	require.NoError(t, err)
	require.Equal(t, StateFailed, fatal.State)
	require.Equal(t, "assignment not found", fatal.Error)
	require.Empty(t, broker.completed)
}

func TestWorkerSettlesExhaustedStalledJobs(t *testing.T) {
	broker := newFakeBroker(false)
	broker.stalled = []Delivery{{ID: "stuck", Job: sampleJob("stuck"), Attempt: DefaultAttempts, MaxAttempts: DefaultAttempts}}
	statuses := NewMemoryStatusStore()

	var (
		mu        sync.Mutex
		abandoned []string
		causes    []error
	)
	onExhausted := func(ctx context.Context, delivery Delivery, cause error) {
		mu.Lock()
		defer mu.Unlock()
		abandoned = append(abandoned, delivery.Job.SubmissionID)
		causes = append(causes, cause)
	}

	handler := func(ctx context.Context, delivery Delivery, progress *Progress) error { return nil }
	worker := NewWorker(broker, statuses, handler, WorkerConfig{
		PollTimeout:  10 * time.Millisecond,
		StalledAfter: 40 * time.Millisecond,
		OnExhausted:  onExhausted,
		Logger:       zerolog.Nop(),
	})
	runWorker(t, worker, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return broker.reclaims >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"stuck"}, abandoned)
	require.ErrorIs(t, causes[0], ErrJobStalled)

	status, err := statuses.Get(context.Background(), "stuck")
	require.NoError(t, err)
	require.Equal(t, StateFailed, status.State)
	require.Equal(t, ErrJobStalled.Error(), status.Error)
}
