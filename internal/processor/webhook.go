package processor

import (
	"context"
	"errors"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

// WebhookEvent is the scheduling API's status-change notification.
type WebhookEvent struct {
	Event string `json:"event"`
	Post  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"post"`
}

// OnExternalEvent is the chaining fast path: when the post a series is
// waiting on resolves (published, failed, draft, deleted), the next cycle
// runs immediately instead of waiting for the poll.
//
// A nil result with a nil error is an acknowledged no-op: either no ACTIVE
// series owns the post, or nothing has changed yet. Racing with the polling
// driver is safe because both converge on the same per-series guard.
func (p *Processor) OnExternalEvent(ctx context.Context, ev WebhookEvent) (*domain.ProcessingResult, error) {
	if ev.Post.ID == "" {
		return nil, domain.E("webhook", domain.KindValidation, errors.New("event has no post id"))
	}

	s, err := p.repo.FindByCurrentPostID(ctx, ev.Post.ID)
	if errors.Is(err, domain.ErrNotFound) {
		p.log.Debug().Str("post_id", ev.Post.ID).Msg("webhook for unmanaged or already advanced post")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ev.Post.Status == domain.PostStatusScheduled {
		return nil, nil
	}

	p.log.Info().
		Str("series_id", s.ID).
		Str("post_id", ev.Post.ID).
		Str("status", ev.Post.Status).
		Msg("webhook chaining next cycle")
	res := p.Process(ctx, s.ID)
	return &res, nil
}
