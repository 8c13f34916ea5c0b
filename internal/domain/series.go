package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type SeriesStatus string

const (
	SeriesActive    SeriesStatus = "ACTIVE"
	SeriesPaused    SeriesStatus = "PAUSED"
	SeriesCancelled SeriesStatus = "CANCELLED"
	SeriesCompleted SeriesStatus = "COMPLETED"
)

// Series is a recurring posting campaign bound to a cloud-storage folder.
// The row in the store is the durable source of truth; everything else
// (coordinator jobs, folder listings) is derived or process-local.
type Series struct {
	ID        string
	AccountID string
	Name      string

	// Cadence
	Weekdays  []time.Weekday
	TimeOfDay string // "HH:MM", interpreted in Timezone
	Timezone  string // IANA name
	StartDate string // civil date "YYYY-MM-DD", interpreted in Timezone
	EndDate   *time.Time
	MaxRuns   *int
	RunCount  int

	// Source binding
	FolderPath       string
	PromptTemplate   string
	LoopEnabled      bool
	CurrentFileIndex int

	// Scheduling-API linkage
	ProfileID         string
	Platforms         []string
	CurrentLatePostID *string
	NextScheduledAt   *time.Time

	Status    SeriesStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Configured reports whether the series carries the bindings a processing
// cycle needs. An unconfigured series is operator-fixable, never retried.
func (s Series) Configured() bool {
	return s.FolderPath != "" && s.PromptTemplate != ""
}

// FolderEntry is one item as returned by the storage provider.
type FolderEntry struct {
	Name        string
	ID          string
	ContentType string
}

// NumberedFile is a folder entry whose name starts with "<digits>-".
// Derived fresh from the provider on every cycle, never persisted.
type NumberedFile struct {
	Index       int
	Name        string
	ContentType string
}

// ExternalPost mirrors the scheduling API's view of a post. Only the id is
// retained on the series; status is kept for display.
type ExternalPost struct {
	ID     string
	Status string
}

const (
	PostStatusScheduled = "scheduled"
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// PostRequest is what the processor hands the scheduling API.
type PostRequest struct {
	Content      string
	MediaRef     string
	ProfileID    string
	Platforms    []string
	ScheduledFor time.Time
	Timezone     string
}

// PostPatch updates an external post's status or schedule.
type PostPatch struct {
	Status       *string
	ScheduledFor *time.Time
}

// ProcessingResult describes one processing attempt. Transient: returned to
// callers and logged, never stored.
type ProcessingResult struct {
	SeriesID   string `json:"series_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	LatePostID string `json:"late_post_id,omitempty"`
	RetryCount int    `json:"retry_count"`
	Completed  bool   `json:"completed,omitempty"`
}

// ParseWeekday accepts upper-case English day names ("MONDAY").
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUNDAY":
		return time.Sunday, nil
	case "MONDAY":
		return time.Monday, nil
	case "TUESDAY":
		return time.Tuesday, nil
	case "WEDNESDAY":
		return time.Wednesday, nil
	case "THURSDAY":
		return time.Thursday, nil
	case "FRIDAY":
		return time.Friday, nil
	case "SATURDAY":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// FormatWeekdays renders a canonical comma-joined representation for storage.
func FormatWeekdays(days []time.Weekday) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, strings.ToUpper(d.String()))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// ParseWeekdays is the inverse of FormatWeekdays.
func ParseWeekdays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		d, err := ParseWeekday(p)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}
