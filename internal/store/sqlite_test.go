package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, EnsureSchema(db))
	return NewSQLiteRepo(db)
}

func testSeries() domain.Series {
	return domain.Series{
		AccountID:      "acc_1",
		Name:           "morning drops",
		Weekdays:       []time.Weekday{time.Monday, time.Thursday},
		TimeOfDay:      "09:00",
		Timezone:       "America/New_York",
		StartDate:      "2025-11-24",
		FolderPath:     "/campaigns/morning",
		PromptTemplate: "Write a caption for {{file}}",
		ProfileID:      "prof_1",
		Platforms:      []string{"instagram", "tiktok"},
	}
}

func TestCreateAndGetSeries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateSeries(ctx, testSeries())
	require.NoError(t, err)
	assert.Contains(t, id, "ser_")

	got, err := repo.GetSeries(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "morning drops", got.Name)
	assert.Equal(t, domain.SeriesActive, got.Status)
	assert.Equal(t, 1, got.CurrentFileIndex)
	assert.Equal(t, 0, got.RunCount)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, got.Weekdays)
	assert.Equal(t, []string{"instagram", "tiktok"}, got.Platforms)
	assert.Nil(t, got.CurrentLatePostID)
	assert.Nil(t, got.NextScheduledAt)
}

func TestGetSeries_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetSeries(context.Background(), "ser_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateSeriesStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSeries(ctx, testSeries())
	require.NoError(t, err)

	require.NoError(t, repo.UpdateSeriesStatus(ctx, id, domain.SeriesPaused))
	got, err := repo.GetSeries(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesPaused, got.Status)

	assert.ErrorIs(t, repo.UpdateSeriesStatus(ctx, "ser_missing", domain.SeriesPaused), domain.ErrNotFound)
}

func TestDueSeries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := testSeries()
	past := now.Add(-time.Hour)
	due.NextScheduledAt = &past
	dueID, err := repo.CreateSeries(ctx, due)
	require.NoError(t, err)

	notYet := testSeries()
	future := now.Add(time.Hour)
	notYet.NextScheduledAt = &future
	_, err = repo.CreateSeries(ctx, notYet)
	require.NoError(t, err)

	unbound := testSeries()
	unbound.FolderPath = ""
	unbound.NextScheduledAt = &past
	_, err = repo.CreateSeries(ctx, unbound)
	require.NoError(t, err)

	paused := testSeries()
	paused.NextScheduledAt = &past
	pausedID, err := repo.CreateSeries(ctx, paused)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateSeriesStatus(ctx, pausedID, domain.SeriesPaused))

	got, err := repo.DueSeries(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, dueID, got[0].ID)
}

func TestFindByCurrentPostID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := testSeries()
	postID := "post_abc"
	s.CurrentLatePostID = &postID
	id, err := repo.CreateSeries(ctx, s)
	require.NoError(t, err)

	got, err := repo.FindByCurrentPostID(ctx, "post_abc")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = repo.FindByCurrentPostID(ctx, "post_unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A non-ACTIVE owner no longer matches.
	require.NoError(t, repo.UpdateSeriesStatus(ctx, id, domain.SeriesCancelled))
	_, err = repo.FindByCurrentPostID(ctx, "post_abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitCycle_Atomic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSeries(ctx, testSeries())
	require.NoError(t, err)

	next := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	err = repo.CommitCycle(ctx, CycleCommit{
		SeriesID:   id,
		NewCursor:  2,
		LatePostID: "post_1",
		NextRunAt:  next,
		Platforms:  []string{"instagram", "tiktok"},
	})
	require.NoError(t, err)

	got, err := repo.GetSeries(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentFileIndex)
	assert.Equal(t, 1, got.RunCount)
	require.NotNil(t, got.CurrentLatePostID)
	assert.Equal(t, "post_1", *got.CurrentLatePostID)
	require.NotNil(t, got.NextScheduledAt)
	assert.WithinDuration(t, next, *got.NextScheduledAt, time.Second)

	counts, err := repo.PostCountsSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"instagram": 1, "tiktok": 1}, counts)
}

func TestCommitCycle_MarkComplete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSeries(ctx, testSeries())
	require.NoError(t, err)

	err = repo.CommitCycle(ctx, CycleCommit{
		SeriesID:     id,
		NewCursor:    3,
		LatePostID:   "post_2",
		NextRunAt:    time.Now().UTC().Add(time.Hour),
		MarkComplete: true,
		Platforms:    []string{"instagram"},
	})
	require.NoError(t, err)

	got, err := repo.GetSeries(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesCompleted, got.Status)
}

func TestCommitCycle_OnlyActiveSeries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSeries(ctx, testSeries())
	require.NoError(t, err)
	require.NoError(t, repo.UpdateSeriesStatus(ctx, id, domain.SeriesCancelled))

	err = repo.CommitCycle(ctx, CycleCommit{
		SeriesID:   id,
		NewCursor:  2,
		LatePostID: "post_3",
		NextRunAt:  time.Now().UTC(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostCountsSince_Window(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSeries(ctx, testSeries())
	require.NoError(t, err)

	require.NoError(t, repo.CommitCycle(ctx, CycleCommit{
		SeriesID: id, NewCursor: 2, LatePostID: "post_1",
		NextRunAt: time.Now().UTC(), Platforms: []string{"instagram"},
	}))

	counts, err := repo.PostCountsSince(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, counts)
}
