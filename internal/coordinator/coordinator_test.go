package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

type stubProcessor struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	calls    []string
	results  map[string]domain.ProcessingResult
	delay    time.Duration
}

func (s *stubProcessor) Process(ctx context.Context, seriesID string) domain.ProcessingResult {
	cur := atomic.AddInt32(&s.inFlight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&s.peak, p, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	atomic.AddInt32(&s.inFlight, -1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, seriesID)
	if r, ok := s.results[seriesID]; ok {
		return r
	}
	return domain.ProcessingResult{SeriesID: seriesID, Success: true, Message: "ok"}
}

type stubRates struct{ counts map[string]int }

func (s *stubRates) PostCountsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	return s.counts, nil
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("ser_%d", i)
	}
	return out
}

func waitSettled(t *testing.T, c *Coordinator, total int) {
	t.Helper()
	require.Eventually(t, func() bool {
		sum := c.Summary()
		return sum.Total == total && sum.Queued == 0 && sum.Running == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEnqueue_BatchCap(t *testing.T) {
	c := New(&stubProcessor{}, &stubRates{}, 3, 64, zerolog.Nop())

	_, err := c.Enqueue(ids(16))
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	res, err := c.Enqueue(ids(15))
	require.NoError(t, err)
	assert.Len(t, res.Queued, 15)
	assert.Empty(t, res.Errors)
}

func TestEnqueue_EmptyBatch(t *testing.T) {
	c := New(&stubProcessor{}, &stubRates{}, 3, 64, zerolog.Nop())
	_, err := c.Enqueue(nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestEnqueue_DuplicateInFlightSkipped(t *testing.T) {
	c := New(&stubProcessor{}, &stubRates{}, 3, 64, zerolog.Nop())

	res, err := c.Enqueue([]string{"ser_dup"})
	require.NoError(t, err)
	assert.Len(t, res.Queued, 1)

	res, err = c.Enqueue([]string{"ser_dup"})
	require.NoError(t, err)
	assert.Empty(t, res.Queued)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "already")
}

func TestRun_BoundedConcurrency(t *testing.T) {
	proc := &stubProcessor{delay: 30 * time.Millisecond}
	c := New(proc, &stubRates{}, 2, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.Enqueue(ids(10))
	require.NoError(t, err)
	waitSettled(t, c, 10)

	assert.LessOrEqual(t, atomic.LoadInt32(&proc.peak), int32(2))
	assert.Len(t, proc.calls, 10)
}

func TestRun_FailureIsolation(t *testing.T) {
	proc := &stubProcessor{results: map[string]domain.ProcessingResult{
		"ser_1": {SeriesID: "ser_1", Success: false, Message: "boom", Error: "storage: network: timeout"},
	}}
	c := New(proc, &stubRates{}, 2, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.Enqueue([]string{"ser_0", "ser_1", "ser_2"})
	require.NoError(t, err)
	waitSettled(t, c, 3)

	sum := c.Summary()
	assert.Equal(t, 2, sum.Success)
	assert.Equal(t, 1, sum.Failed)

	j, ok := c.Status("ser_1")
	require.True(t, ok)
	assert.Equal(t, domain.JobFailed, j.Status)
	assert.Equal(t, "storage: network: timeout", j.Error)
	require.NotNil(t, j.StartedAt)
	require.NotNil(t, j.FinishedAt)
}

func TestClearCompleted(t *testing.T) {
	proc := &stubProcessor{}
	c := New(proc, &stubRates{}, 2, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.Enqueue(ids(4))
	require.NoError(t, err)
	waitSettled(t, c, 4)

	assert.Equal(t, 4, c.ClearCompleted())
	assert.Equal(t, 0, c.Summary().Total)
	assert.Empty(t, c.AllStatus())
}

func TestReEnqueueAfterCompletion(t *testing.T) {
	proc := &stubProcessor{}
	c := New(proc, &stubRates{}, 2, 64, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, err := c.Enqueue([]string{"ser_a"})
	require.NoError(t, err)
	waitSettled(t, c, 1)

	res, err := c.Enqueue([]string{"ser_a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ser_a"}, res.Queued)
}

func TestRateSnapshot(t *testing.T) {
	c := New(&stubProcessor{}, &stubRates{counts: map[string]int{"instagram": 7}}, 2, 64, zerolog.Nop())
	snap, err := c.RateSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "24h", snap.Window)
	assert.Equal(t, 7, snap.Counts["instagram"])
}
