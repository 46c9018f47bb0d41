// Package snapshot materializes the per-course ranking table and runs the
// other batch jobs over every ranked course.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/courserank/ranking-engine/internal/metrics"
	"github.com/courserank/ranking-engine/internal/model"
	"github.com/courserank/ranking-engine/internal/ranking"
)

// Store is the subset of the persistence layer the refresher needs.
type Store interface {
	ListCourses(ctx context.Context, positiveOnly bool) ([]int64, error)
	CourseStandings(ctx context.Context, courseID, groupID int64) ([]model.Standing, error)
	ReplaceSnapshot(ctx context.Context, courseID int64, rows []model.RankingSnapshotRow) error
}

// Summary reports one refresh cycle.
type Summary struct {
	Courses  int           `json:"courses"`
	Rows     int           `json:"rows"`
	Failed   []int64       `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
}

// Refresher rebuilds ranking snapshots.
type Refresher struct {
	store       Store
	concurrency int
	now         func() time.Time
}

// NewRefresher creates a refresher that processes up to concurrency
// courses at once.
func NewRefresher(st Store, concurrency int) *Refresher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Refresher{
		store:       st,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RefreshAll rebuilds the snapshot of every course with a positive total.
// A failing course is logged and reported in the summary; the others
// still refresh. Only listing the courses can fail the whole cycle.
func (r *Refresher) RefreshAll(ctx context.Context) (*Summary, error) {
	start := time.Now()
	courses, err := r.store.ListCourses(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = &Summary{Courses: len(courses), Failed: []int64{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, courseID := range courses {
		g.Go(func() error {
			n, err := r.RefreshCourse(gctx, courseID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.SnapshotCourseFailures.Inc()
				slog.Error("snapshot refresh failed", "course", courseID, "err", err)
				summary.Failed = append(summary.Failed, courseID)
				return nil
			}
			summary.Rows += n
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	metrics.SnapshotRefreshDuration.Observe(summary.Duration.Seconds())
	metrics.SnapshotRows.Set(float64(summary.Rows))
	slog.Info("snapshot refresh complete",
		"courses", summary.Courses,
		"rows", summary.Rows,
		"failed", len(summary.Failed),
		"duration", summary.Duration.String(),
	)
	return summary, nil
}

// RefreshCourse replaces one course's snapshot and returns the row count.
func (r *Refresher) RefreshCourse(ctx context.Context, courseID int64) (int, error) {
	standings, err := r.store.CourseStandings(ctx, courseID, 0)
	if err != nil {
		return 0, err
	}
	ranked := ranking.Rank(ranking.PositiveOnly(standings))

	now := r.now()
	rows := make([]model.RankingSnapshotRow, len(ranked))
	for i, rr := range ranked {
		rows[i] = model.RankingSnapshotRow{
			CourseID:    courseID,
			UserID:      rr.UserID,
			Points:      rr.Points,
			Position:    rr.Position,
			TotalUsers:  len(ranked),
			LastUpdated: now,
		}
	}
	if err := r.store.ReplaceSnapshot(ctx, courseID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Run refreshes every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("snapshot refresher started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RefreshAll(ctx); err != nil {
				slog.Error("snapshot refresh cycle failed", "err", err)
			}
		}
	}
}
