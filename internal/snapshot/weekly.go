package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/courserank/ranking-engine/internal/metrics"
	"github.com/courserank/ranking-engine/internal/notify"
	"github.com/courserank/ranking-engine/internal/ranking"
)

// WeeklySummary tells every ranked user where they stand in each course.
type WeeklySummary struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
}

// NewWeeklySummary creates the weekly summary job.
func NewWeeklySummary(st Store, notifier notify.Notifier) *WeeklySummary {
	return &WeeklySummary{
		store:    st,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Send notifies every ranked user of every course and returns how many
// messages were delivered. Delivery failures are logged and skipped.
func (w *WeeklySummary) Send(ctx context.Context) (int, error) {
	courses, err := w.store.ListCourses(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list courses: %w", err)
	}

	sent := 0
	for _, courseID := range courses {
		standings, err := w.store.CourseStandings(ctx, courseID, 0)
		if err != nil {
			slog.Error("weekly summary skipped course", "course", courseID, "err", err)
			continue
		}
		ranked := ranking.Rank(ranking.PositiveOnly(standings))

		courseSent := 0
		for _, row := range ranked {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			msg := notify.Message{
				Kind:          notify.KindWeeklySummary,
				CourseID:      courseID,
				UserID:        row.UserID,
				Position:      row.Position,
				Total:         row.Points,
				TotalStudents: len(ranked),
				At:            w.now(),
			}
			if err := w.notifier.Notify(ctx, msg); err != nil {
				metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "failed").Inc()
				slog.Warn("weekly summary failed", "course", courseID, "user", row.UserID, "err", err)
				continue
			}
			metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "sent").Inc()
			courseSent++
		}
		sent += courseSent
		slog.Info("weekly summaries sent", "course", courseID, "sent", courseSent)
	}
	return sent, nil
}
