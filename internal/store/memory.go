package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/model"
)

type totalKey struct {
	userID   int64
	courseID int64
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	totals      map[totalKey]*model.PointsTotal
	logs        []model.AwardLogEntry
	snapshots   map[int64][]model.RankingSnapshotRow
	completions map[int64]model.Completion
	groups      map[int64]map[int64]bool
	now         func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		totals:      make(map[totalKey]*model.PointsTotal),
		snapshots:   make(map[int64][]model.RankingSnapshotRow),
		completions: make(map[int64]model.Completion),
		groups:      make(map[int64]map[int64]bool),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for created/modified timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// --- Ledger ---

// InTx holds the write lock for the whole transaction and restores the
// previous state if fn fails.
func (s *MemoryStore) InTx(_ context.Context, fn func(tx LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	savedTotals := make(map[totalKey]*model.PointsTotal, len(s.totals))
	for k, v := range s.totals {
		cp := *v
		savedTotals[k] = &cp
	}
	savedLogs := len(s.logs)

	if err := fn(&memLedgerTx{s: s}); err != nil {
		s.totals = savedTotals
		s.logs = s.logs[:savedLogs]
		return err
	}
	return nil
}

func (s *MemoryStore) GetTotal(_ context.Context, userID, courseID int64) (*model.PointsTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTotalLocked(userID, courseID)
}

func (s *MemoryStore) CountPriorAwards(_ context.Context, userID, courseID, completionRef int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countPriorAwardsLocked(userID, courseID, completionRef), nil
}

func (s *MemoryStore) getTotalLocked(userID, courseID int64) (*model.PointsTotal, error) {
	pt, ok := s.totals[totalKey{userID, courseID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pt
	return &cp, nil
}

func (s *MemoryStore) countPriorAwardsLocked(userID, courseID, completionRef int64) int {
	pt, ok := s.totals[totalKey{userID, courseID}]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range s.logs {
		if e.PointsTotalID == pt.ID && e.CompletionRef != nil && *e.CompletionRef == completionRef {
			n++
		}
	}
	return n
}

// memLedgerTx runs with MemoryStore.mu already held.
type memLedgerTx struct {
	s *MemoryStore
}

func (t *memLedgerTx) GetTotal(_ context.Context, userID, courseID int64) (*model.PointsTotal, error) {
	return t.s.getTotalLocked(userID, courseID)
}

func (t *memLedgerTx) UpsertIncrement(_ context.Context, userID, courseID int64, delta decimal.Decimal) (*model.PointsTotal, error) {
	now := t.s.now()
	key := totalKey{userID, courseID}
	pt, ok := t.s.totals[key]
	if !ok {
		pt = &model.PointsTotal{
			ID:        uuid.New().String(),
			UserID:    userID,
			CourseID:  courseID,
			Points:    decimal.Zero,
			CreatedAt: now,
		}
		t.s.totals[key] = pt
	}
	pt.Points = pt.Points.Add(delta)
	pt.ModifiedAt = now

	cp := *pt
	return &cp, nil
}

func (t *memLedgerTx) AppendLog(_ context.Context, pointsTotalID string, courseID int64, completionRef *int64, delta decimal.Decimal) (*model.AwardLogEntry, error) {
	found := false
	for _, pt := range t.s.totals {
		if pt.ID == pointsTotalID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("append award log: points total %s: %w", pointsTotalID, ErrNotFound)
	}

	e := model.AwardLogEntry{
		ID:            uuid.New().String(),
		PointsTotalID: pointsTotalID,
		CourseID:      courseID,
		Points:        delta,
		CreatedAt:     t.s.now(),
	}
	if completionRef != nil {
		ref := *completionRef
		e.CompletionRef = &ref
	}
	t.s.logs = append(t.s.logs, e)
	return &e, nil
}

func (t *memLedgerTx) CountPriorAwards(_ context.Context, userID, courseID, completionRef int64) (int, error) {
	return t.s.countPriorAwardsLocked(userID, courseID, completionRef), nil
}

// --- Rankings ---

func (s *MemoryStore) CourseStandings(_ context.Context, courseID, groupID int64) ([]model.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var standings []model.Standing
	for _, pt := range s.totals {
		if pt.CourseID != courseID {
			continue
		}
		if groupID != 0 && !s.groups[groupID][pt.UserID] {
			continue
		}
		standings = append(standings, model.Standing{
			UserID: pt.UserID,
			Points: pt.Points,
			Since:  pt.CreatedAt,
		})
	}
	return standings, nil
}

func (s *MemoryStore) SumLogInWindow(_ context.Context, courseID int64, start, end time.Time) ([]model.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make(map[string]*model.PointsTotal, len(s.totals))
	for _, pt := range s.totals {
		owners[pt.ID] = pt
	}

	agg := make(map[int64]*model.Standing)
	for _, e := range s.logs {
		if e.CourseID != courseID || e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		pt := owners[e.PointsTotalID]
		if pt == nil {
			continue
		}
		st, ok := agg[pt.UserID]
		if !ok {
			st = &model.Standing{UserID: pt.UserID, Since: pt.CreatedAt}
			agg[pt.UserID] = st
		}
		st.Points = st.Points.Add(e.Points)
	}

	standings := make([]model.Standing, 0, len(agg))
	for _, st := range agg {
		standings = append(standings, *st)
	}
	return standings, nil
}

func (s *MemoryStore) ListCourses(_ context.Context, positiveOnly bool) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]bool)
	for _, pt := range s.totals {
		if positiveOnly && !pt.Points.IsPositive() {
			continue
		}
		seen[pt.CourseID] = true
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) CountRanked(_ context.Context, courseID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, pt := range s.totals {
		if pt.CourseID == courseID && pt.Points.IsPositive() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountAhead(_ context.Context, courseID int64, points decimal.Decimal) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, pt := range s.totals {
		if pt.CourseID == courseID && pt.Points.GreaterThan(points) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UserHistory(_ context.Context, courseID, userID int64, limit int) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pt, ok := s.totals[totalKey{userID, courseID}]
	if !ok {
		return nil, nil
	}

	var entries []model.HistoryEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if e.PointsTotalID != pt.ID {
			continue
		}
		h := model.HistoryEntry{ID: e.ID, Points: e.Points, Timestamp: e.CreatedAt}
		if e.CompletionRef != nil {
			h.ActivityType = s.completions[*e.CompletionRef].ActivityType
		}
		entries = append(entries, h)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) DailyPoints(_ context.Context, courseID int64) ([]model.DailyPoints, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[time.Time]decimal.Decimal)
	for _, e := range s.logs {
		if e.CourseID != courseID {
			continue
		}
		t := e.CreatedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		sums[day] = sums[day].Add(e.Points)
	}

	days := make([]model.DailyPoints, 0, len(sums))
	for day, pts := range sums {
		days = append(days, model.DailyPoints{Day: day, Points: pts})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
	return days, nil
}

// --- Snapshots ---

func (s *MemoryStore) ReplaceSnapshot(_ context.Context, courseID int64, rows []model.RankingSnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]model.RankingSnapshotRow, len(rows))
	copy(fresh, rows)
	if len(fresh) == 0 {
		delete(s.snapshots, courseID)
		return nil
	}
	s.snapshots[courseID] = fresh
	return nil
}

func (s *MemoryStore) GetSnapshotRow(_ context.Context, courseID, userID int64) (*model.RankingSnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.snapshots[courseID] {
		if r.UserID == userID {
			row := r
			return &row, nil
		}
	}
	return nil, ErrNotFound
}

// SnapshotRows returns the stored snapshot of a course in position order.
func (s *MemoryStore) SnapshotRows(courseID int64) []model.RankingSnapshotRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.RankingSnapshotRow, len(s.snapshots[courseID]))
	copy(rows, s.snapshots[courseID])
	return rows
}

// --- Records ---

func (s *MemoryStore) GetCompletion(_ context.Context, id int64) (*model.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.completions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) PutCompletion(_ context.Context, c *model.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = s.now()
	}
	s.completions[c.ID] = *c
	return nil
}

func (s *MemoryStore) AddGroupMember(_ context.Context, groupID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groups[groupID] == nil {
		s.groups[groupID] = make(map[int64]bool)
	}
	s.groups[groupID][userID] = true
	return nil
}

// --- Privacy ---

func (s *MemoryStore) ExportUser(_ context.Context, userID int64) ([]model.UserExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exports []model.UserExport
	for _, pt := range s.totals {
		if pt.UserID != userID {
			continue
		}
		exp := model.UserExport{Total: *pt}
		for _, e := range s.logs {
			if e.PointsTotalID == pt.ID {
				exp.Logs = append(exp.Logs, e)
			}
		}
		exports = append(exports, exp)
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].Total.CourseID < exports[j].Total.CourseID })
	return exports, nil
}

func (s *MemoryStore) DeleteAllForCourse(_ context.Context, courseID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0:0]
	for _, e := range s.logs {
		if e.CourseID != courseID {
			kept = append(kept, e)
		}
	}
	s.logs = kept

	for k := range s.totals {
		if k.courseID == courseID {
			delete(s.totals, k)
		}
	}
	delete(s.snapshots, courseID)
	return nil
}

func (s *MemoryStore) DeleteAllForUser(_ context.Context, userID int64, courseID *int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]bool)
	var courses []int64
	for k, pt := range s.totals {
		if k.userID != userID || (courseID != nil && k.courseID != *courseID) {
			continue
		}
		removed[pt.ID] = true
		courses = append(courses, k.courseID)
		delete(s.totals, k)
	}

	kept := s.logs[:0:0]
	for _, e := range s.logs {
		if !removed[e.PointsTotalID] {
			kept = append(kept, e)
		}
	}
	s.logs = kept

	for _, c := range courses {
		rows := s.snapshots[c][:0:0]
		for _, r := range s.snapshots[c] {
			if r.UserID != userID {
				rows = append(rows, r)
			}
		}
		s.snapshots[c] = rows
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i] < courses[j] })
	return courses, nil
}

// LogEntries returns a copy of the award log, oldest first.
func (s *MemoryStore) LogEntries() []model.AwardLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.AwardLogEntry, len(s.logs))
	copy(entries, s.logs)
	return entries
}
