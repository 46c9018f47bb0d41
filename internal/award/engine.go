// Package award applies one award atomically: resolve the completion, price
// it with the Policy, then increment the user's total and append the award
// log entry in a single ledger transaction.
//
// The engine does not decide whether an award should happen. Repeated calls
// with the same completion each pay out again unless the caller de-duplicates
// first or sets Request.RejectDuplicate.
package award

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/cache"
	"github.com/courserank/ranking-engine/internal/metrics"
	"github.com/courserank/ranking-engine/internal/model"
	"github.com/courserank/ranking-engine/internal/store"
)

// ErrInvalidCompletion is returned when the completion id does not resolve.
var ErrInvalidCompletion = errors.New("award: completion not found")

// Ledger is the subset of the store the engine needs.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx store.LedgerTx) error) error
	GetCompletion(ctx context.Context, id int64) (*model.Completion, error)
}

// Request is one award call.
type Request struct {
	CompletionID int64
	// Grade is the raw grade, set only for graded activities such as quizzes.
	Grade *decimal.Decimal
	// RejectDuplicate fails the call with store.ErrDuplicateAward when the
	// completion already paid out for this user and course.
	RejectDuplicate bool
}

// Result reports what an award changed, so callers can detect rank changes.
type Result struct {
	CourseID      int64           `json:"course_id"`
	UserID        int64           `json:"user_id"`
	CompletionID  int64           `json:"completion_id"`
	ActivityType  string          `json:"activity_type"`
	Delta         decimal.Decimal `json:"delta"`
	PreviousTotal decimal.Decimal `json:"previous_total"`
	NewTotal      decimal.Decimal `json:"new_total"`
	LogEntryID    string          `json:"log_entry_id,omitempty"`
	// Skipped is set when the completion is not in a completed state.
	Skipped bool `json:"skipped"`
}

// Engine applies awards against the ledger.
type Engine struct {
	ledger Ledger
	cache  cache.Cache
	policy Policy
}

// NewEngine creates an award engine. rc may be nil when no ranking cache
// is deployed.
func NewEngine(ledger Ledger, rc cache.Cache, policy Policy) *Engine {
	return &Engine{ledger: ledger, cache: rc, policy: policy}
}

// Policy returns the engine's pricing policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// AwardPoints resolves req.CompletionID and applies its points.
func (e *Engine) AwardPoints(ctx context.Context, req Request) (*Result, error) {
	completion, err := e.ledger.GetCompletion(ctx, req.CompletionID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.AwardsTotal.WithLabelValues("invalid").Inc()
		slog.Warn("award rejected: unknown completion", "completion", req.CompletionID)
		return nil, fmt.Errorf("%w: %d", ErrInvalidCompletion, req.CompletionID)
	}
	if err != nil {
		metrics.AwardsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("resolve completion %d: %w", req.CompletionID, err)
	}

	result := &Result{
		CourseID:     completion.CourseID,
		UserID:       completion.UserID,
		CompletionID: completion.ID,
		ActivityType: completion.ActivityType,
	}
	if !completion.Completed() {
		metrics.AwardsTotal.WithLabelValues("skipped").Inc()
		result.Skipped = true
		return result, nil
	}

	delta := e.policy.Points(completion.ActivityType, req.Grade)
	result.Delta = delta

	start := time.Now()
	err = e.ledger.InTx(ctx, func(tx store.LedgerTx) error {
		total, err := tx.UpsertIncrement(ctx, completion.UserID, completion.CourseID, delta)
		if err != nil {
			return err
		}
		if req.RejectDuplicate {
			// The upsert holds the total's row lock, so this count cannot race
			// another award for the same user and course.
			n, err := tx.CountPriorAwards(ctx, completion.UserID, completion.CourseID, completion.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return store.ErrDuplicateAward
			}
		}

		ref := completion.ID
		entry, err := tx.AppendLog(ctx, total.ID, completion.CourseID, &ref, delta)
		if err != nil {
			return err
		}

		result.NewTotal = total.Points
		result.PreviousTotal = total.Points.Sub(delta)
		result.LogEntryID = entry.ID
		return nil
	})
	metrics.AwardLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, store.ErrDuplicateAward) {
		metrics.AwardsTotal.WithLabelValues("duplicate").Inc()
		slog.Info("award rejected: completion already awarded",
			"user", completion.UserID, "course", completion.CourseID, "completion", completion.ID)
		return nil, err
	}
	if err != nil {
		metrics.AwardsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("award completion %d: %w", completion.ID, err)
	}

	metrics.AwardsTotal.WithLabelValues("applied").Inc()
	if delta.IsPositive() {
		metrics.PointsAwarded.Add(delta.InexactFloat64())
	}
	slog.Info("award applied",
		"user", result.UserID,
		"course", result.CourseID,
		"completion", result.CompletionID,
		"delta", result.Delta.String(),
		"total", result.NewTotal.String(),
	)

	if e.cache != nil {
		if err := cache.InvalidateCommon(ctx, e.cache, result.CourseID); err != nil {
			metrics.CacheInvalidationFailures.Inc()
			slog.Warn("ranking cache invalidation failed", "course", result.CourseID, "err", err)
		}
	}
	return result, nil
}
