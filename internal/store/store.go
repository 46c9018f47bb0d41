// Package store defines the persistence interface for the ranking engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateAward is returned by the opt-in unique completion guard
	// when the completion already paid out for this user and course.
	ErrDuplicateAward = errors.New("store: completion already awarded")
)

// LedgerTx is the set of ledger operations that run inside one transaction.
// Every mutation made through it commits or rolls back together.
type LedgerTx interface {
	// GetTotal returns the user's total in the course, or ErrNotFound.
	GetTotal(ctx context.Context, userID, courseID int64) (*model.PointsTotal, error)

	// UpsertIncrement creates the total on first use and adds delta to it.
	// The row stays locked until the transaction ends.
	UpsertIncrement(ctx context.Context, userID, courseID int64, delta decimal.Decimal) (*model.PointsTotal, error)

	// AppendLog records one award against an existing total.
	AppendLog(ctx context.Context, pointsTotalID string, courseID int64, completionRef *int64, delta decimal.Decimal) (*model.AwardLogEntry, error)

	// CountPriorAwards counts log entries for completionRef under the user's total.
	CountPriorAwards(ctx context.Context, userID, courseID, completionRef int64) (int, error)
}

// Ledger is the durable points ledger: totals plus the append-only award log.
type Ledger interface {
	// InTx runs fn in a single transaction, rolling back if fn returns an error.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// GetTotal returns the user's total in the course, or ErrNotFound.
	GetTotal(ctx context.Context, userID, courseID int64) (*model.PointsTotal, error)

	// CountPriorAwards is the caller-side de-duplication check.
	CountPriorAwards(ctx context.Context, userID, courseID, completionRef int64) (int, error)
}

// Rankings serves the raw rows the ranking calculator consumes.
type Rankings interface {
	// CourseStandings returns every total in the course. groupID 0 means no
	// group filter.
	CourseStandings(ctx context.Context, courseID, groupID int64) ([]model.Standing, error)

	// SumLogInWindow sums award log deltas per user for entries created in
	// [start, end].
	SumLogInWindow(ctx context.Context, courseID int64, start, end time.Time) ([]model.Standing, error)

	// ListCourses returns the ids of courses that have totals. With
	// positiveOnly, only courses with at least one positive total.
	ListCourses(ctx context.Context, positiveOnly bool) ([]int64, error)

	// CountRanked counts the totals with points > 0 in the course.
	CountRanked(ctx context.Context, courseID int64) (int, error)

	// CountAhead counts the totals in the course with more than points.
	CountAhead(ctx context.Context, courseID int64, points decimal.Decimal) (int, error)

	// UserHistory returns the user's awards in the course, most recent first.
	UserHistory(ctx context.Context, courseID, userID int64, limit int) ([]model.HistoryEntry, error)

	// DailyPoints sums awarded points per calendar day (UTC), oldest first.
	DailyPoints(ctx context.Context, courseID int64) ([]model.DailyPoints, error)
}

// Snapshots persists the precomputed ranking table.
type Snapshots interface {
	// ReplaceSnapshot deletes the course's snapshot rows and inserts rows,
	// all in one transaction.
	ReplaceSnapshot(ctx context.Context, courseID int64, rows []model.RankingSnapshotRow) error

	// GetSnapshotRow returns the user's snapshot row, or ErrNotFound.
	GetSnapshotRow(ctx context.Context, courseID, userID int64) (*model.RankingSnapshotRow, error)
}

// Records gives access to externally owned records the engine reads.
type Records interface {
	// GetCompletion resolves a completion record, or ErrNotFound.
	GetCompletion(ctx context.Context, id int64) (*model.Completion, error)

	// PutCompletion mirrors a completion record from the LMS.
	PutCompletion(ctx context.Context, c *model.Completion) error

	// AddGroupMember mirrors a course group membership from the LMS.
	AddGroupMember(ctx context.Context, groupID, userID int64) error
}

// Privacy covers per-user export and the raw purge operations.
type Privacy interface {
	// ExportUser returns every total of the user with its log entries.
	ExportUser(ctx context.Context, userID int64) ([]model.UserExport, error)

	// DeleteAllForCourse removes every total, log entry and snapshot row
	// of the course.
	DeleteAllForCourse(ctx context.Context, courseID int64) error

	// DeleteAllForUser removes the user's totals, logs and snapshot rows,
	// in one course when courseID is non-nil. It returns the affected courses.
	DeleteAllForUser(ctx context.Context, userID int64, courseID *int64) ([]int64, error)
}

// Store is the full persistence interface. PostgreSQL is the source of truth.
type Store interface {
	Ledger
	Rankings
	Snapshots
	Records
	Privacy
}
