// Package coordinator fans a batch of series ids out to the processor under
// a bounded worker pool. Job tracking is process-local; the durable
// scheduling record stays the series row.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

// MaxBatchSize caps one enqueue call. Protects the external API from burst
// overload.
const MaxBatchSize = 15

// Processor is the slice of the series processor the pool needs.
type Processor interface {
	Process(ctx context.Context, seriesID string) domain.ProcessingResult
}

// RateReader feeds the display-only rate snapshot.
type RateReader interface {
	PostCountsSince(ctx context.Context, since time.Time) (map[string]int, error)
}

type Coordinator struct {
	proc  Processor
	rates RateReader
	log   zerolog.Logger

	queue chan string
	sem   chan struct{}

	mu   sync.RWMutex
	jobs map[string]*domain.JobRecord
	now  func() time.Time
}

func New(proc Processor, rates RateReader, workers, queueDepth int, log zerolog.Logger) *Coordinator {
	if workers <= 0 {
		workers = 3
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Coordinator{
		proc:  proc,
		rates: rates,
		log:   log,
		queue: make(chan string, queueDepth),
		sem:   make(chan struct{}, workers),
		jobs:  make(map[string]*domain.JobRecord),
		now:   time.Now,
	}
}

// Run drains the queue until ctx is cancelled. Jobs run under the semaphore
// so at most `workers` processor calls are in flight; queued ids keep FIFO
// order.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			select {
			case <-ctx.Done():
				return
			case c.sem <- struct{}{}:
			}
			go func(seriesID string) {
				defer func() { <-c.sem }()
				c.runJob(ctx, seriesID)
			}(id)
		}
	}
}

func (c *Coordinator) runJob(ctx context.Context, seriesID string) {
	c.setRunning(seriesID)
	res := c.proc.Process(ctx, seriesID)
	c.setFinished(seriesID, res)
}

// EnqueueResult reports which ids were accepted and which were rejected.
type EnqueueResult struct {
	Queued []string `json:"queued"`
	Errors []string `json:"errors,omitempty"`
}

// Enqueue validates and queues a batch. Batches over MaxBatchSize are
// rejected outright; individual duplicates (already queued or running) are
// skipped with a per-id error without failing the rest.
func (c *Coordinator) Enqueue(seriesIDs []string) (EnqueueResult, error) {
	if len(seriesIDs) == 0 {
		return EnqueueResult{}, domain.E("coordinator", domain.KindValidation, fmt.Errorf("empty batch"))
	}
	if len(seriesIDs) > MaxBatchSize {
		return EnqueueResult{}, domain.E("coordinator", domain.KindValidation,
			fmt.Errorf("batch of %d exceeds the maximum of %d", len(seriesIDs), MaxBatchSize))
	}

	var out EnqueueResult
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range seriesIDs {
		if id == "" {
			out.Errors = append(out.Errors, "empty series id")
			continue
		}
		if j, ok := c.jobs[id]; ok && (j.Status == domain.JobQueued || j.Status == domain.JobRunning) {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: already %s", id, j.Status))
			continue
		}
		select {
		case c.queue <- id:
			c.jobs[id] = &domain.JobRecord{SeriesID: id, Status: domain.JobQueued, EnqueuedAt: c.now()}
			out.Queued = append(out.Queued, id)
		default:
			out.Errors = append(out.Errors, fmt.Sprintf("%s: queue is full", id))
		}
	}
	c.log.Info().Int("queued", len(out.Queued)).Int("rejected", len(out.Errors)).Msg("batch enqueued")
	return out, nil
}

func (c *Coordinator) setRunning(seriesID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[seriesID]; ok {
		now := c.now()
		j.Status = domain.JobRunning
		j.StartedAt = &now
	}
}

func (c *Coordinator) setFinished(seriesID string, res domain.ProcessingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[seriesID]
	if !ok {
		return
	}
	now := c.now()
	j.FinishedAt = &now
	j.Message = res.Message
	if res.Success {
		j.Status = domain.JobSuccess
	} else {
		j.Status = domain.JobFailed
		j.Error = res.Error
		if j.Error == "" {
			j.Error = res.Message
		}
	}
}

// Status returns the job record for one series id.
func (c *Coordinator) Status(seriesID string) (domain.JobRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[seriesID]
	if !ok {
		return domain.JobRecord{}, false
	}
	return *j, true
}

// AllStatus returns a snapshot of every tracked job.
func (c *Coordinator) AllStatus() []domain.JobRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.JobRecord, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, *j)
	}
	return out
}

// Summary aggregates job counts by state.
func (c *Coordinator) Summary() domain.JobSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sum domain.JobSummary
	for _, j := range c.jobs {
		switch j.Status {
		case domain.JobQueued:
			sum.Queued++
		case domain.JobRunning:
			sum.Running++
		case domain.JobSuccess:
			sum.Success++
		case domain.JobFailed:
			sum.Failed++
		}
		sum.Total++
	}
	return sum
}

// ClearCompleted drops finished jobs, returning how many were removed.
func (c *Coordinator) ClearCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, j := range c.jobs {
		if j.Status == domain.JobSuccess || j.Status == domain.JobFailed {
			delete(c.jobs, id)
			n++
		}
	}
	return n
}

// RateSnapshot is the trailing-window per-platform post count. Display only;
// nothing in this process enforces it.
type RateSnapshot struct {
	Window string         `json:"window"`
	Counts map[string]int `json:"counts"`
}

func (c *Coordinator) RateSnapshot(ctx context.Context) (RateSnapshot, error) {
	counts, err := c.rates.PostCountsSince(ctx, c.now().Add(-24*time.Hour))
	if err != nil {
		return RateSnapshot{}, err
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return RateSnapshot{Window: "24h", Counts: counts}, nil
}
