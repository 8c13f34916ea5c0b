// Package processor runs one content-series cycle end to end: pick the next
// numbered file, generate post text, upload the media, schedule the post on
// the external API, and persist the advanced series state atomically.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/indexer"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/recurrence"
	"github.com/baller70/tbfcontentmachineapp-sub003/internal/store"
)

// Storage is the cloud-storage collaborator.
type Storage interface {
	ListFolder(ctx context.Context, path string) ([]domain.FolderEntry, error)
	Download(ctx context.Context, path string) ([]byte, error)
}

// Generator is the AI content-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Publisher is the slice of the external scheduling API a cycle uses.
type Publisher interface {
	UploadMedia(ctx context.Context, name, contentType string, data []byte) (string, error)
	CreatePost(ctx context.Context, req domain.PostRequest) (domain.ExternalPost, error)
}

const (
	defaultCallTimeout     = 30 * time.Second
	defaultGenerateTimeout = 2 * time.Minute
)

type Processor struct {
	repo    store.Repository
	storage Storage
	gen     Generator
	pub     Publisher

	guard           *guard
	log             zerolog.Logger
	now             func() time.Time
	backoff         func(int) time.Duration
	callTimeout     time.Duration
	generateTimeout time.Duration
}

// Option adjusts a Processor at construction.
type Option func(*Processor)

// WithGenerateTimeout overrides the per-attempt generation deadline.
func WithGenerateTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.generateTimeout = d
		}
	}
}

func New(repo store.Repository, storage Storage, gen Generator, pub Publisher, log zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		repo:            repo,
		storage:         storage,
		gen:             gen,
		pub:             pub,
		log:             log,
		now:             time.Now,
		backoff:         backoffExp,
		callTimeout:     defaultCallTimeout,
		generateTimeout: defaultGenerateTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	p.guard = newGuard(guardBudget(p.callTimeout, p.generateTimeout))
	return p
}

// guardBudget is the longest a healthy cycle can hold the in-flight guard:
// four provider calls and one generation, each at full retry with backoff,
// plus a margin for store work. Takeover below this re-enters a slow but
// still-running cycle and schedules two posts for one cursor.
func guardBudget(callTimeout, generateTimeout time.Duration) time.Duration {
	var backoff time.Duration
	for i := 1; i < maxAttempts; i++ {
		backoff += backoffExp(i)
	}
	return time.Duration(maxAttempts)*(4*callTimeout+generateTimeout) + 5*backoff + time.Minute
}

// Process runs one cycle for the series. It never panics outward and never
// returns an error: callers inspect the result. A failed cycle leaves the
// series untouched so the next trigger retries the same file.
func (p *Processor) Process(ctx context.Context, seriesID string) domain.ProcessingResult {
	return p.run(ctx, seriesID, "cycle")
}

// ScheduleFirstPost is the series-creation side effect: it runs the same
// cycle, scheduling the very first post.
func (p *Processor) ScheduleFirstPost(ctx context.Context, seriesID string) domain.ProcessingResult {
	return p.run(ctx, seriesID, "first post")
}

func (p *Processor) run(ctx context.Context, seriesID, label string) domain.ProcessingResult {
	if !p.guard.acquire(seriesID, p.now()) {
		return domain.ProcessingResult{
			SeriesID: seriesID,
			Message:  "processing already in flight",
			Error:    domain.ErrInFlight.Error(),
		}
	}
	defer p.guard.release(seriesID)

	res := p.cycle(ctx, seriesID, label)
	ev := p.log.Info()
	if !res.Success {
		ev = p.log.Warn()
	}
	ev.Str("series_id", seriesID).
		Bool("success", res.Success).
		Int("retries", res.RetryCount).
		Str("late_post_id", res.LatePostID).
		Msg(res.Message)
	return res
}

func (p *Processor) cycle(ctx context.Context, seriesID, label string) domain.ProcessingResult {
	fail := func(msg string, err error) domain.ProcessingResult {
		r := domain.ProcessingResult{SeriesID: seriesID, Message: msg}
		if err != nil {
			r.Error = err.Error()
		}
		return r
	}

	s, err := p.repo.GetSeries(ctx, seriesID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fail("series not found", err)
		}
		return fail("load series", err)
	}
	if s.Status != domain.SeriesActive {
		return fail(fmt.Sprintf("series is %s, nothing to do", s.Status), nil)
	}
	if !s.Configured() {
		return fail("series is misconfigured", domain.ErrMisconfigured)
	}
	if s.MaxRuns != nil && s.RunCount >= *s.MaxRuns {
		if err := p.repo.CompleteSeries(ctx, seriesID); err != nil {
			return fail("mark series completed", err)
		}
		return domain.ProcessingResult{
			SeriesID: seriesID, Completed: true,
			Message: fmt.Sprintf("max runs (%d) reached, series completed", *s.MaxRuns),
		}
	}

	retries := 0

	// 1. Pick the file the cursor points at.
	var files []domain.NumberedFile
	n, err := p.withRetry(ctx, "storage", func() error {
		c, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		files, err = indexer.ListNumbered(c, p.storage, s.FolderPath)
		return err
	})
	retries += n
	if err != nil {
		return fail("list folder", err)
	}

	sel, err := indexer.SelectNext(files, s.CurrentFileIndex, s.LoopEnabled)
	if err != nil {
		var nmf *indexer.NoMoreFilesError
		if errors.As(err, &nmf) {
			if err := p.repo.CompleteSeries(ctx, seriesID); err != nil {
				return fail("mark series completed", err)
			}
			return domain.ProcessingResult{
				SeriesID: seriesID, Completed: true,
				Message: fmt.Sprintf("no more files to post (cursor %d, available %v), series completed", nmf.Cursor, nmf.Available),
			}
		}
		return fail("select next file", err)
	}

	// 2. Next run instant, before any side effects: a series past its end
	// date completes without creating a post.
	nextRun, err := recurrence.Next(s.StartDate, s.Weekdays, s.TimeOfDay, s.Timezone, p.now())
	if err != nil {
		return fail("compute next run", err)
	}
	if s.EndDate != nil && nextRun.After(*s.EndDate) {
		if err := p.repo.CompleteSeries(ctx, seriesID); err != nil {
			return fail("mark series completed", err)
		}
		return domain.ProcessingResult{
			SeriesID: seriesID, Completed: true,
			Message: fmt.Sprintf("next run %s is past the end date, series completed", nextRun.Format(time.RFC3339)),
		}
	}

	// 3. Fetch the media bytes.
	var data []byte
	n, err = p.withRetry(ctx, "storage", func() error {
		c, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		data, err = p.storage.Download(c, joinPath(s.FolderPath, sel.File.Name))
		return err
	})
	retries += n
	if err != nil {
		return fail("download file", err)
	}

	// 4. Generate the post text.
	var content string
	n, err = p.withRetry(ctx, "generate", func() error {
		c, cancel := context.WithTimeout(ctx, p.generateTimeout)
		defer cancel()
		content, err = p.gen.Generate(c, buildPrompt(s, sel.File))
		return err
	})
	retries += n
	if err != nil {
		return fail("generate content", err)
	}

	// 5. Upload the media to the scheduling API.
	var mediaRef string
	n, err = p.withRetry(ctx, "publish", func() error {
		c, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		mediaRef, err = p.pub.UploadMedia(c, sel.File.Name, sel.File.ContentType, data)
		return err
	})
	retries += n
	if err != nil {
		return fail("upload media", err)
	}

	// 6. Schedule the post.
	var post domain.ExternalPost
	n, err = p.withRetry(ctx, "publish", func() error {
		c, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		post, err = p.pub.CreatePost(c, domain.PostRequest{
			Content:      content,
			MediaRef:     mediaRef,
			ProfileID:    s.ProfileID,
			Platforms:    s.Platforms,
			ScheduledFor: nextRun,
			Timezone:     s.Timezone,
		})
		return err
	})
	retries += n
	if err != nil {
		return fail("create post", err)
	}

	// 7. One transaction: cursor, post id, next run, run count.
	markComplete := s.MaxRuns != nil && s.RunCount+1 >= *s.MaxRuns
	if err := p.repo.CommitCycle(ctx, store.CycleCommit{
		SeriesID:     seriesID,
		NewCursor:    sel.File.Index + 1,
		LatePostID:   post.ID,
		NextRunAt:    nextRun,
		MarkComplete: markComplete,
		Platforms:    s.Platforms,
	}); err != nil {
		return fail("persist cycle", err)
	}

	msg := fmt.Sprintf("%s scheduled: file %q for %s", label, sel.File.Name, nextRun.Format(time.RFC3339))
	if sel.WillLoop {
		msg += " (looped back to first file)"
	}
	return domain.ProcessingResult{
		SeriesID:   seriesID,
		Success:    true,
		Message:    msg,
		LatePostID: post.ID,
		RetryCount: retries,
		Completed:  markComplete,
	}
}

func buildPrompt(s domain.Series, f domain.NumberedFile) string {
	prompt := strings.ReplaceAll(s.PromptTemplate, "{{file}}", f.Name)
	return fmt.Sprintf("%s\n\nFile: %s (%s), item %d of the %q series.",
		prompt, f.Name, f.ContentType, f.Index, s.Name)
}

func joinPath(folder, name string) string {
	return strings.TrimRight(folder, "/") + "/" + name
}
