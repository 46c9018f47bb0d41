// Package ranking turns raw point standings into an ordered, tie-aware
// course ranking.
//
// Positions follow standard competition ("gap") ranking: tied points share
// a position and the next distinct score skips the tied count, so three
// users tied for second are followed by fourth place (1, 2, 2, 2, 5).
//
// Ties in points are ordered by Standing.Since ascending (earliest to reach
// the course ledger first), then by user id ascending, so the output order
// is fully deterministic. Position is a function of points only.
//
// Everything here is pure and safe for concurrent use.
package ranking

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Rank orders standings and assigns absolute positions plus the view flags
// derived from the full set. The input slice is not modified.
func Rank(standings []model.Standing) []model.RankedRow {
	sorted := make([]model.Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := a.Points.Cmp(b.Points); c != 0 {
			return c > 0
		}
		if !a.Since.Equal(b.Since) {
			return a.Since.Before(b.Since)
		}
		return a.UserID < b.UserID
	})

	rows := make([]model.RankedRow, len(sorted))
	if len(sorted) == 0 {
		return rows
	}
	top := sorted[0].Points

	position := 0
	for i, s := range sorted {
		if i == 0 || !s.Points.Equal(sorted[i-1].Points) {
			position = i + 1
		}
		rows[i] = model.RankedRow{
			UserID:          s.UserID,
			Points:          s.Points,
			Position:        position,
			IsTopThree:      position <= 3,
			IsGold:          position == 1,
			IsSilver:        position == 2,
			IsBronze:        position == 3,
			ProgressPercent: progress(s.Points, top),
		}
	}
	return rows
}

// progress is round(points / top * 100), 0 when top is not positive.
func progress(points, top decimal.Decimal) int {
	if !top.IsPositive() || !points.IsPositive() {
		return 0
	}
	return int(points.Mul(hundred).Div(top).Round(0).IntPart())
}

// PositiveOnly drops standings with zero or negative points.
func PositiveOnly(standings []model.Standing) []model.Standing {
	out := make([]model.Standing, 0, len(standings))
	for _, s := range standings {
		if s.Points.IsPositive() {
			out = append(out, s)
		}
	}
	return out
}

// Page slices an already ranked set. Positions stay absolute. A limit of
// 0 or less means no limit.
func Page(rows []model.RankedRow, offset, limit int) []model.RankedRow {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []model.RankedRow{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]model.RankedRow, end-offset)
	copy(page, rows[offset:end])
	return page
}

// MarkSelf flags the viewer's row in place.
func MarkSelf(rows []model.RankedRow, userID int64) {
	for i := range rows {
		rows[i].IsSelf = rows[i].UserID == userID
	}
}

// PositionOf returns the user's position in rows, or 0 if absent.
func PositionOf(rows []model.RankedRow, userID int64) int {
	for _, r := range rows {
		if r.UserID == userID {
			return r.Position
		}
	}
	return 0
}

// Transition describes how one user's award moved them through a ranking.
type Transition struct {
	UserID          int64 `json:"user_id"`
	OldPosition     int   `json:"old_position"`
	NewPosition     int   `json:"new_position"`
	EnteredTopThree bool  `json:"entered_top_three"`
	// Overtaken lists users who were strictly ahead before the award and
	// are strictly behind after it.
	Overtaken []int64 `json:"overtaken,omitempty"`
}

// Transitions compares the course ranking before and after an award to
// userID.
func Transitions(before, after []model.RankedRow, userID int64) Transition {
	t := Transition{
		UserID:      userID,
		OldPosition: PositionOf(before, userID),
		NewPosition: PositionOf(after, userID),
	}
	if t.NewPosition == 0 {
		return t
	}
	t.EnteredTopThree = t.NewPosition <= 3 && (t.OldPosition == 0 || t.OldPosition > 3)

	for _, b := range before {
		if b.UserID == userID {
			continue
		}
		wasAhead := t.OldPosition == 0 || b.Position < t.OldPosition
		if !wasAhead {
			continue
		}
		if now := PositionOf(after, b.UserID); now > t.NewPosition {
			t.Overtaken = append(t.Overtaken, b.UserID)
		}
	}
	return t
}
