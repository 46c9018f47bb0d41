// Package model defines the core domain types shared across the ranking engine.
// All point values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompletionStateIncomplete marks a completion record that must not pay out.
const CompletionStateIncomplete = 0

// PointsTotal is the running total of one user in one course.
// At most one row exists per (UserID, CourseID).
type PointsTotal struct {
	ID         string          `json:"id" db:"id"`
	UserID     int64           `json:"user_id" db:"user_id"`
	CourseID   int64           `json:"course_id" db:"course_id"`
	Points     decimal.Decimal `json:"points" db:"points"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ModifiedAt time.Time       `json:"modified_at" db:"modified_at"`
}

// AwardLogEntry is an immutable record of one award transaction.
// CompletionRef is nil for awards that were not triggered by a completion.
type AwardLogEntry struct {
	ID            string          `json:"id" db:"id"`
	PointsTotalID string          `json:"points_total_id" db:"points_total_id"`
	CourseID      int64           `json:"course_id" db:"course_id"`
	CompletionRef *int64          `json:"completion_ref,omitempty" db:"completion_ref"`
	Points        decimal.Decimal `json:"points" db:"points"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// RankingSnapshotRow is one row of the precomputed per-course ranking.
// Derived data: always reconstructible from PointsTotal.
type RankingSnapshotRow struct {
	CourseID    int64           `json:"course_id" db:"course_id"`
	UserID      int64           `json:"user_id" db:"user_id"`
	Points      decimal.Decimal `json:"points" db:"points"`
	Position    int             `json:"position" db:"position"`
	TotalUsers  int             `json:"total_users" db:"total_users"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// Completion is an externally owned activity-completion record.
type Completion struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	CourseID     int64     `json:"course_id" db:"course_id"`
	ActivityType string    `json:"activity_type" db:"activity_type"` // "quiz", "page", ...
	State        int       `json:"state" db:"state"`
	ModifiedAt   time.Time `json:"modified_at" db:"modified_at"`
}

// Completed reports whether the record is an award trigger.
func (c Completion) Completed() bool {
	return c.State != CompletionStateIncomplete
}

// Standing is the raw input of a ranking computation: one user's points
// in a course or window. Since orders ties (earliest first).
type Standing struct {
	UserID int64           `json:"user_id"`
	Points decimal.Decimal `json:"points"`
	Since  time.Time       `json:"since"`
}

// RankedRow is a Standing decorated with its absolute position and
// the view flags derived from the full ranked set.
type RankedRow struct {
	UserID          int64           `json:"user_id"`
	Points          decimal.Decimal `json:"points"`
	Position        int             `json:"position"`
	IsTopThree      bool            `json:"is_top_three"`
	IsGold          bool            `json:"is_gold"`
	IsSilver        bool            `json:"is_silver"`
	IsBronze        bool            `json:"is_bronze"`
	ProgressPercent int             `json:"progress_percent"`
	IsSelf          bool            `json:"is_self,omitempty"`
}

// Ranking is one page of a course ranking. An empty Rows slice is the
// valid "no ranked students" result, not an error.
type Ranking struct {
	CourseID int64       `json:"course_id"`
	Window   string      `json:"window"` // "general" or "dated"
	Offset   int         `json:"offset"`
	Limit    int         `json:"limit"`
	Total    int         `json:"total"`
	Rows     []RankedRow `json:"students"`
}

// Empty reports whether there are no ranked students to show.
func (r Ranking) Empty() bool {
	return len(r.Rows) == 0
}

// UserPosition answers "where am I". Position is 0 when the user is not ranked.
type UserPosition struct {
	UserID        int64           `json:"user_id"`
	CourseID      int64           `json:"course_id"`
	Position      int             `json:"position"`
	Points        decimal.Decimal `json:"points"`
	TotalStudents int             `json:"total_students"`
}

// HistoryEntry is one award as shown to its owner, most recent first.
type HistoryEntry struct {
	ID           string          `json:"id"`
	Points       decimal.Decimal `json:"points"`
	Timestamp    time.Time       `json:"timestamp"`
	ActivityType string          `json:"activity_type"`
}

// DailyPoints is the sum of points awarded in a course on one day.
type DailyPoints struct {
	Day    time.Time       `json:"day"`
	Points decimal.Decimal `json:"points"`
}

// UserExport is everything stored about one user in one course.
type UserExport struct {
	Total PointsTotal     `json:"total"`
	Logs  []AwardLogEntry `json:"logs"`
}
