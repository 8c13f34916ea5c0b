package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS series (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  name TEXT NOT NULL,
  weekdays TEXT NOT NULL,
  time_of_day TEXT NOT NULL,
  timezone TEXT NOT NULL,
  start_date TEXT NOT NULL,
  end_date DATETIME,
  max_runs INTEGER,
  run_count INTEGER NOT NULL DEFAULT 0,
  folder_path TEXT NOT NULL DEFAULT '',
  prompt_template TEXT NOT NULL DEFAULT '',
  loop_enabled INTEGER NOT NULL DEFAULT 0,
  current_file_index INTEGER NOT NULL DEFAULT 1 CHECK(current_file_index >= 1),
  profile_id TEXT NOT NULL DEFAULT '',
  platforms TEXT NOT NULL DEFAULT '',
  current_late_post_id TEXT,
  next_scheduled_at DATETIME,
  status TEXT NOT NULL CHECK(status IN ('ACTIVE','PAUSED','CANCELLED','COMPLETED')) DEFAULT 'ACTIVE',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_series_due ON series(status, next_scheduled_at);
CREATE INDEX IF NOT EXISTS idx_series_late_post ON series(current_late_post_id) WHERE current_late_post_id IS NOT NULL;
CREATE TABLE IF NOT EXISTS post_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  series_id TEXT NOT NULL,
  late_post_id TEXT NOT NULL,
  platform TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(series_id) REFERENCES series(id)
);
CREATE INDEX IF NOT EXISTS idx_post_log_created ON post_log(created_at);
`
	_, err := db.Exec(schema)
	return err
}

// CycleCommit is everything one successful processing cycle persists. The
// fields land in one transaction so a crash can never leave the cursor
// advanced without a post, or a post without its next run time.
type CycleCommit struct {
	SeriesID     string
	NewCursor    int
	LatePostID   string
	NextRunAt    time.Time
	MarkComplete bool
	Platforms    []string
}

type Repository interface {
	CreateSeries(ctx context.Context, s domain.Series) (string, error)
	GetSeries(ctx context.Context, id string) (domain.Series, error)
	ListSeries(ctx context.Context) ([]domain.Series, error)
	UpdateSeriesStatus(ctx context.Context, id string, status domain.SeriesStatus) error
	DeleteSeries(ctx context.Context, id string) error

	// DueSeries returns ACTIVE, folder-bound series whose next run has elapsed.
	DueSeries(ctx context.Context, now time.Time) ([]domain.Series, error)
	// FindByCurrentPostID locates the ACTIVE series owning an external post id.
	FindByCurrentPostID(ctx context.Context, latePostID string) (domain.Series, error)

	CommitCycle(ctx context.Context, c CycleCommit) error
	CompleteSeries(ctx context.Context, id string) error

	PostCountsSince(ctx context.Context, since time.Time) (map[string]int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const seriesColumns = `id,account_id,name,weekdays,time_of_day,timezone,start_date,end_date,max_runs,run_count,
folder_path,prompt_template,loop_enabled,current_file_index,profile_id,platforms,
current_late_post_id,next_scheduled_at,status,created_at,updated_at`

func (r *sqliteRepo) CreateSeries(ctx context.Context, s domain.Series) (string, error) {
	id := s.ID
	if id == "" {
		id = "ser_" + uuid.NewString()
	}
	if s.CurrentFileIndex < 1 {
		s.CurrentFileIndex = 1
	}
	if s.Status == "" {
		s.Status = domain.SeriesActive
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO series (id,account_id,name,weekdays,time_of_day,timezone,start_date,end_date,max_runs,run_count,
folder_path,prompt_template,loop_enabled,current_file_index,profile_id,platforms,
current_late_post_id,next_scheduled_at,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,0,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, s.AccountID, s.Name, domain.FormatWeekdays(s.Weekdays), s.TimeOfDay, s.Timezone, s.StartDate,
		s.EndDate, s.MaxRuns, s.FolderPath, s.PromptTemplate, s.LoopEnabled, s.CurrentFileIndex,
		s.ProfileID, strings.Join(s.Platforms, ","), s.CurrentLatePostID, s.NextScheduledAt, string(s.Status))
	return id, err
}

func (r *sqliteRepo) GetSeries(ctx context.Context, id string) (domain.Series, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id=?`, id)
	return scanSeries(row)
}

func (r *sqliteRepo) ListSeries(ctx context.Context) ([]domain.Series, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+seriesColumns+` FROM series ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeriesRows(rows)
}

func (r *sqliteRepo) UpdateSeriesStatus(ctx context.Context, id string, status domain.SeriesStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE series SET status=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) DeleteSeries(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM series WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) DueSeries(ctx context.Context, now time.Time) ([]domain.Series, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+seriesColumns+` FROM series
WHERE status='ACTIVE' AND folder_path != '' AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?
ORDER BY next_scheduled_at`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeriesRows(rows)
}

func (r *sqliteRepo) FindByCurrentPostID(ctx context.Context, latePostID string) (domain.Series, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+seriesColumns+` FROM series WHERE current_late_post_id=? AND status='ACTIVE'`, latePostID)
	return scanSeries(row)
}

func (r *sqliteRepo) CommitCycle(ctx context.Context, c CycleCommit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	status := string(domain.SeriesActive)
	if c.MarkComplete {
		status = string(domain.SeriesCompleted)
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx, `
UPDATE series
SET current_file_index=?, run_count=run_count+1, current_late_post_id=?, next_scheduled_at=?,
    status=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status='ACTIVE'`,
		c.NewCursor, c.LatePostID, c.NextRunAt.UTC(), status, c.SeriesID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = domain.ErrNotFound
		return err
	}

	for _, platform := range c.Platforms {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO post_log(series_id, late_post_id, platform) VALUES (?,?,?)`,
			c.SeriesID, c.LatePostID, platform); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *sqliteRepo) CompleteSeries(ctx context.Context, id string) error {
	return r.UpdateSeriesStatus(ctx, id, domain.SeriesCompleted)
}

func (r *sqliteRepo) PostCountsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT platform, COUNT(*) FROM post_log WHERE created_at >= ? GROUP BY platform`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var platform string
		var n int
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, err
		}
		counts[platform] = n
	}
	return counts, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSeries(row rowScanner) (domain.Series, error) {
	var s domain.Series
	var (
		weekdays  string
		platforms string
		endDate   sql.NullTime
		maxRuns   sql.NullInt64
		postID    sql.NullString
		nextAt    sql.NullTime
		status    string
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.Name, &weekdays, &s.TimeOfDay, &s.Timezone, &s.StartDate,
		&endDate, &maxRuns, &s.RunCount, &s.FolderPath, &s.PromptTemplate, &s.LoopEnabled,
		&s.CurrentFileIndex, &s.ProfileID, &platforms, &postID, &nextAt, &status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Series{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Series{}, err
	}

	if s.Weekdays, err = domain.ParseWeekdays(weekdays); err != nil {
		return domain.Series{}, fmt.Errorf("series %s: %w", s.ID, err)
	}
	if platforms != "" {
		s.Platforms = strings.Split(platforms, ",")
	}
	if endDate.Valid {
		t := endDate.Time
		s.EndDate = &t
	}
	if maxRuns.Valid {
		n := int(maxRuns.Int64)
		s.MaxRuns = &n
	}
	if postID.Valid {
		v := postID.String
		s.CurrentLatePostID = &v
	}
	if nextAt.Valid {
		t := nextAt.Time
		s.NextScheduledAt = &t
	}
	s.Status = domain.SeriesStatus(status)
	return s, nil
}

func scanSeriesRows(rows *sql.Rows) ([]domain.Series, error) {
	var out []domain.Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
