package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/courserank/ranking-engine/internal/award"
	"github.com/courserank/ranking-engine/internal/metrics"
	"github.com/courserank/ranking-engine/internal/model"
	"github.com/courserank/ranking-engine/internal/notify"
	"github.com/courserank/ranking-engine/internal/ranking"
	"github.com/courserank/ranking-engine/internal/store"
)

// ErrCompletionMismatch is returned when an event names a different user or
// course than the completion record it refers to.
var ErrCompletionMismatch = errors.New("events: event does not match its completion")

// Status is what the observer did with an event.
type Status string

const (
	StatusAwarded    Status = "awarded"
	StatusNotStudent Status = "not_student"
	StatusDuplicate  Status = "duplicate"
	StatusIncomplete Status = "incomplete"
)

// Awarder applies one award.
type Awarder interface {
	AwardPoints(ctx context.Context, req award.Request) (*award.Result, error)
}

// Ledger is the read side the observer needs around an award.
type Ledger interface {
	GetCompletion(ctx context.Context, id int64) (*model.Completion, error)
	CountPriorAwards(ctx context.Context, userID, courseID, completionRef int64) (int, error)
	CourseStandings(ctx context.Context, courseID, groupID int64) ([]model.Standing, error)
}

// Options are the deployment toggles of the observer.
type Options struct {
	// MultipleQuizAttempts pays every quiz attempt instead of the first only.
	MultipleQuizAttempts bool
	// EnforceUniqueCompletion also guards against duplicates inside the
	// award transaction.
	EnforceUniqueCompletion bool
}

// Outcome reports how an event was handled.
type Outcome struct {
	Status     Status              `json:"status"`
	Result     *award.Result       `json:"result,omitempty"`
	Transition *ranking.Transition `json:"transition,omitempty"`
}

// Observer de-duplicates events, awards points and announces ranking changes.
type Observer struct {
	awarder  Awarder
	ledger   Ledger
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
}

// NewObserver creates an observer. notifier may be nil.
func NewObserver(awarder Awarder, ledger Ledger, notifier notify.Notifier, opts Options) *Observer {
	return &Observer{
		awarder:  awarder,
		ledger:   ledger,
		notifier: notifier,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one event. Non-students, repeated completions and
// incomplete records are not errors.
func (o *Observer) Handle(ctx context.Context, ev Event) (*Outcome, error) {
	if !ev.Student() {
		return &Outcome{Status: StatusNotStudent}, nil
	}

	var (
		userID, courseID int64
		req              = award.Request{CompletionID: ev.Completion(), RejectDuplicate: o.opts.EnforceUniqueCompletion}
		dedup            = true
	)
	switch e := ev.(type) {
	case ActivityCompleted:
		userID, courseID = e.UserID, e.CourseID
	case QuizAttemptSubmitted:
		userID, courseID = e.UserID, e.CourseID
		req.Grade = e.Grade
		if o.opts.MultipleQuizAttempts {
			dedup = false
			req.RejectDuplicate = false
		}
	default:
		return nil, fmt.Errorf("events: unsupported event %T", ev)
	}

	// The award is written against the completion record, so the event must
	// agree with it before the de-dup check means anything.
	completion, err := o.ledger.GetCompletion(ctx, ev.Completion())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", award.ErrInvalidCompletion, ev.Completion())
	}
	if err != nil {
		return nil, fmt.Errorf("resolve completion %d: %w", ev.Completion(), err)
	}
	if completion.UserID != userID || completion.CourseID != courseID {
		slog.Warn("event rejected: completion belongs elsewhere",
			"event", ev.kind(), "user", userID, "course", courseID,
			"completion", completion.ID, "completion_user", completion.UserID, "completion_course", completion.CourseID)
		return nil, fmt.Errorf("%w: completion %d", ErrCompletionMismatch, completion.ID)
	}

	if dedup {
		n, err := o.ledger.CountPriorAwards(ctx, userID, courseID, ev.Completion())
		if err != nil {
			return nil, fmt.Errorf("check prior awards: %w", err)
		}
		if n > 0 {
			slog.Debug("event skipped: completion already awarded",
				"event", ev.kind(), "user", userID, "course", courseID, "completion", ev.Completion())
			return &Outcome{Status: StatusDuplicate}, nil
		}
	}

	before, err := o.rank(ctx, courseID)
	if err != nil {
		return nil, err
	}

	res, err := o.awarder.AwardPoints(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return &Outcome{Status: StatusIncomplete, Result: res}, nil
	}

	after, err := o.rank(ctx, res.CourseID)
	if err != nil {
		// The award is committed; only the announcement is lost.
		slog.Warn("ranking after award unavailable", "course", res.CourseID, "err", err)
		return &Outcome{Status: StatusAwarded, Result: res}, nil
	}

	tr := ranking.Transitions(before, after, res.UserID)
	o.announce(ctx, res, tr, after)
	return &Outcome{Status: StatusAwarded, Result: res, Transition: &tr}, nil
}

func (o *Observer) rank(ctx context.Context, courseID int64) ([]model.RankedRow, error) {
	standings, err := o.ledger.CourseStandings(ctx, courseID, 0)
	if err != nil {
		return nil, fmt.Errorf("load standings for course %d: %w", courseID, err)
	}
	return ranking.Rank(ranking.PositiveOnly(standings)), nil
}

// announce sends the award's notifications. Failures are logged only.
func (o *Observer) announce(ctx context.Context, res *award.Result, tr ranking.Transition, after []model.RankedRow) {
	if o.notifier == nil {
		return
	}
	now := o.now()

	msgs := []notify.Message{{
		Kind:     notify.KindPointsAwarded,
		CourseID: res.CourseID,
		UserID:   res.UserID,
		Position: tr.NewPosition,
		Points:   res.Delta,
		Total:    res.NewTotal,
		At:       now,
	}}
	if tr.EnteredTopThree {
		msgs = append(msgs, notify.Message{
			Kind:     notify.KindTopThree,
			CourseID: res.CourseID,
			UserID:   res.UserID,
			Position: tr.NewPosition,
			Total:    res.NewTotal,
			At:       now,
		})
	}
	for _, uid := range tr.Overtaken {
		msgs = append(msgs, notify.Message{
			Kind:     notify.KindOvertaken,
			CourseID: res.CourseID,
			UserID:   uid,
			ByUserID: res.UserID,
			Position: ranking.PositionOf(after, uid),
			At:       now,
		})
	}

	for _, msg := range msgs {
		if err := o.notifier.Notify(ctx, msg); err != nil {
			metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "failed").Inc()
			slog.Warn("notification failed",
				"kind", string(msg.Kind), "course", msg.CourseID, "user", msg.UserID, "err", err)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(string(msg.Kind), "sent").Inc()
	}
}
