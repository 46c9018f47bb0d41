package ranking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func st(user int64, pts float64, since int) model.Standing {
	return model.Standing{UserID: user, Points: d(pts), Since: t0.Add(time.Duration(since) * time.Minute)}
}

func positions(rows []model.RankedRow) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Position
	}
	return out
}

func users(rows []model.RankedRow) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.UserID
	}
	return out
}

func equalInts[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Ordering ---

func TestRank_OrdersByPointsDescending(t *testing.T) {
	const a, b, c = 1, 2, 3
	rows := Rank([]model.Standing{st(a, 30, 0), st(b, 50, 1), st(c, 10, 2)})

	if got := users(rows); !equalInts(got, []int64{b, a, c}) {
		t.Errorf("expected order [B A C], got %v", got)
	}
	if got := positions(rows); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("expected positions [1 2 3], got %v", got)
	}
}

func TestRank_TiesShareAndConsumePositions(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 50, 0), st(2, 50, 1), st(3, 30, 2)})
	if got := positions(rows); !equalInts(got, []int{1, 1, 3}) {
		t.Errorf("expected gap ranking [1 1 3], got %v", got)
	}
}

func TestRank_ThreeWayTieForSecond(t *testing.T) {
	rows := Rank([]model.Standing{
		st(1, 90, 0), st(2, 40, 1), st(3, 40, 2), st(4, 40, 3), st(5, 10, 4),
	})
	if got := positions(rows); !equalInts(got, []int{1, 2, 2, 2, 5}) {
		t.Errorf("expected [1 2 2 2 5], got %v", got)
	}
}

func TestRank_TieBreakBySinceThenUserID(t *testing.T) {
	rows := Rank([]model.Standing{st(9, 20, 5), st(4, 20, 1), st(7, 20, 1)})
	if got := users(rows); !equalInts(got, []int64{4, 7, 9}) {
		t.Errorf("expected tie order [4 7 9], got %v", got)
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	in := []model.Standing{st(1, 10, 0), st(2, 20, 0)}
	Rank(in)
	if in[0].UserID != 1 {
		t.Error("input slice was reordered")
	}
}

func TestRank_Empty(t *testing.T) {
	if rows := Rank(nil); len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

// --- Derived flags ---

func TestRank_MedalFlags(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 40, 0), st(2, 30, 0), st(3, 20, 0), st(4, 10, 0)})

	if !rows[0].IsGold || !rows[1].IsSilver || !rows[2].IsBronze {
		t.Errorf("medal flags wrong: %+v", rows[:3])
	}
	for _, r := range rows[:3] {
		if !r.IsTopThree {
			t.Errorf("user %d should be top three", r.UserID)
		}
	}
	if rows[3].IsTopThree || rows[3].IsGold || rows[3].IsSilver || rows[3].IsBronze {
		t.Errorf("fourth place carries a medal flag: %+v", rows[3])
	}
}

func TestRank_TiedGoldBothGold(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 40, 0), st(2, 40, 1), st(3, 20, 2)})
	if !rows[0].IsGold || !rows[1].IsGold {
		t.Error("tied leaders should both be gold")
	}
	if rows[2].IsSilver || !rows[2].IsBronze {
		t.Errorf("third row should be bronze at position 3, got %+v", rows[2])
	}
}

func TestRank_ProgressPercent(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 200, 0), st(2, 101, 0), st(3, 1, 0)})

	want := []int{100, 51, 1}
	for i, r := range rows {
		if r.ProgressPercent != want[i] {
			t.Errorf("row %d: expected progress %d, got %d", i, want[i], r.ProgressPercent)
		}
	}
}

func TestRank_ProgressZeroWhenMaxIsZero(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 0, 0), st(2, 0, 1)})
	for _, r := range rows {
		if r.ProgressPercent != 0 {
			t.Errorf("expected 0 progress, got %d", r.ProgressPercent)
		}
		if r.Position != 1 {
			t.Errorf("all-zero set should tie at 1, got %d", r.Position)
		}
	}
}

func TestPositiveOnly(t *testing.T) {
	got := PositiveOnly([]model.Standing{st(1, 0, 0), st(2, 3, 0), st(3, -1, 0)})
	if len(got) != 1 || got[0].UserID != 2 {
		t.Errorf("expected only user 2, got %+v", got)
	}
}

// --- Pagination ---

func TestPage_KeepsAbsolutePositions(t *testing.T) {
	var in []model.Standing
	for i := 0; i < 60; i++ {
		in = append(in, st(int64(i+1), float64(1000-i), 0))
	}
	rows := Rank(in)

	page := Page(rows, 50, 20)
	if len(page) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(page))
	}
	if page[0].Position != 51 || page[9].Position != 60 {
		t.Errorf("expected positions 51..60, got %d..%d", page[0].Position, page[9].Position)
	}
	if page[0].ProgressPercent != rows[50].ProgressPercent {
		t.Error("progress must be relative to the full set")
	}
}

func TestPage_TieAcrossBoundary(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 9, 0), st(2, 5, 1), st(3, 5, 2), st(4, 1, 3)})
	page := Page(rows, 2, 2)
	if got := positions(page); !equalInts(got, []int{2, 4}) {
		t.Errorf("expected [2 4], got %v", got)
	}
}

func TestPage_Bounds(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 3, 0), st(2, 2, 0)})
	if got := Page(rows, 5, 10); len(got) != 0 {
		t.Errorf("offset past end should be empty, got %d", len(got))
	}
	if got := Page(rows, 0, 0); len(got) != 2 {
		t.Errorf("limit 0 should return all, got %d", len(got))
	}
}

func TestMarkSelf(t *testing.T) {
	rows := Rank([]model.Standing{st(1, 3, 0), st(2, 2, 0)})
	MarkSelf(rows, 2)
	if rows[0].IsSelf || !rows[1].IsSelf {
		t.Errorf("unexpected self flags: %+v", rows)
	}
}

// --- Transitions ---

func TestTransitions_EnterTopThreeAndOvertake(t *testing.T) {
	before := Rank([]model.Standing{st(1, 50, 0), st(2, 40, 0), st(3, 30, 0), st(4, 20, 0)})
	after := Rank([]model.Standing{st(1, 50, 0), st(2, 40, 0), st(3, 30, 0), st(4, 45, 0)})

	tr := Transitions(before, after, 4)
	if tr.OldPosition != 4 || tr.NewPosition != 2 {
		t.Errorf("expected 4 -> 2, got %d -> %d", tr.OldPosition, tr.NewPosition)
	}
	if !tr.EnteredTopThree {
		t.Error("expected EnteredTopThree")
	}
	if !equalInts(tr.Overtaken, []int64{2, 3}) {
		t.Errorf("expected overtaken [2 3], got %v", tr.Overtaken)
	}
}

func TestTransitions_TieIsNotOvertake(t *testing.T) {
	before := Rank([]model.Standing{st(1, 50, 0), st(2, 40, 1)})
	after := Rank([]model.Standing{st(1, 50, 0), st(2, 50, 1)})

	tr := Transitions(before, after, 2)
	if len(tr.Overtaken) != 0 {
		t.Errorf("catching up to a tie is not overtaking, got %v", tr.Overtaken)
	}
	if tr.EnteredTopThree {
		t.Error("already top three; should not re-enter")
	}
}

func TestTransitions_FirstAward(t *testing.T) {
	before := Rank([]model.Standing{st(1, 5, 0)})
	after := Rank([]model.Standing{st(1, 5, 0), st(2, 8, 1)})

	tr := Transitions(before, after, 2)
	if tr.OldPosition != 0 || tr.NewPosition != 1 || !tr.EnteredTopThree {
		t.Errorf("unexpected transition: %+v", tr)
	}
	if !equalInts(tr.Overtaken, []int64{1}) {
		t.Errorf("expected overtaken [1], got %v", tr.Overtaken)
	}
}
