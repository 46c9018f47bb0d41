// Package notify delivers ranking notifications. Delivery is best-effort:
// callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies a notification.
type Kind string

const (
	KindPointsAwarded Kind = "points_awarded"
	KindTopThree      Kind = "top_three"
	KindOvertaken     Kind = "overtaken"
	KindWeeklySummary Kind = "weekly_summary"
)

// Message is one notification addressed to UserID.
type Message struct {
	Kind     Kind  `json:"type"`
	CourseID int64 `json:"course_id"`
	UserID   int64 `json:"user_id"`
	// ByUserID is the user who overtook UserID.
	ByUserID      int64           `json:"by_user_id,omitempty"`
	Position      int             `json:"position,omitempty"`
	Points        decimal.Decimal `json:"points"`
	Total         decimal.Decimal `json:"total"`
	TotalStudents int             `json:"total_students,omitempty"`
	At            time.Time       `json:"at"`
}

// Notifier delivers a message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes every message to the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, msg Message) error {
	slog.Info("notification",
		"kind", string(msg.Kind),
		"course", msg.CourseID,
		"user", msg.UserID,
		"position", msg.Position,
		"points", msg.Points.String(),
	)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
