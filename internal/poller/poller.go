// Package poller is the fallback path: a periodic sweep over ACTIVE series
// whose next run has elapsed, for when the webhook chain does not fire.
package poller

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

// DueLister finds series ready to process.
type DueLister interface {
	DueSeries(ctx context.Context, now time.Time) ([]domain.Series, error)
}

// Processor runs one series cycle.
type Processor interface {
	Process(ctx context.Context, seriesID string) domain.ProcessingResult
}

type Poller struct {
	repo DueLister
	proc Processor
	log  zerolog.Logger
	cron *cron.Cron
	now  func() time.Time
}

func New(repo DueLister, proc Processor, log zerolog.Logger) *Poller {
	return &Poller{repo: repo, proc: proc, log: log, cron: cron.New(), now: time.Now}
}

// Start schedules Sweep on the given cadence ("@every 1m" or a cron spec)
// and runs until ctx is cancelled. Over-frequent invocation is harmless: a
// series with no elapsed next run is never selected, and the processor's
// per-series guard absorbs overlap with webhook chaining.
func (p *Poller) Start(ctx context.Context, cadence string) error {
	if _, err := p.cron.AddFunc(cadence, func() { p.Sweep(ctx) }); err != nil {
		return err
	}
	p.cron.Start()
	p.log.Info().Str("cadence", cadence).Msg("polling driver started")

	go func() {
		<-ctx.Done()
		p.cron.Stop()
	}()
	return nil
}

// Sweep processes every due series once, isolating failures: one bad series
// never stops the rest of the pass.
func (p *Poller) Sweep(ctx context.Context) []domain.ProcessingResult {
	now := p.now()
	due, err := p.repo.DueSeries(ctx, now)
	if err != nil {
		p.log.Error().Err(err).Msg("due-series query failed")
		return nil
	}
	if len(due) == 0 {
		return nil
	}

	p.log.Info().Int("due", len(due)).Time("now", now).Msg("sweep starting")
	results := make([]domain.ProcessingResult, 0, len(due))
	for _, s := range due {
		results = append(results, p.proc.Process(ctx, s.ID))
	}
	return results
}

// ValidateCadence checks a sweep cadence expression.
func ValidateCadence(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
