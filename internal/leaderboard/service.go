// Package leaderboard serves ranking reads through the ranking cache and
// owns the cache-aware privacy operations.
package leaderboard

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
	"github.com/courserank/ranking-engine/internal/ranking"
	"github.com/courserank/ranking-engine/internal/store"
)

// ErrInvalidWindow is returned when a window ends before it starts.
var ErrInvalidWindow = errors.New("leaderboard: window end before start")

const (
	WindowGeneral = "general"
	WindowDated   = "dated"

	defaultHistoryLimit = 50
)

// Store is the subset of the persistence layer the read service needs.
type Store interface {
	store.Rankings
	store.Snapshots
	store.Privacy
	GetTotal(ctx context.Context, userID, courseID int64) (*model.PointsTotal, error)
}

// Options configure the read service.
type Options struct {
	CacheTTL     time.Duration
	DefaultLimit int
	Location     *time.Location
	WeekStartDay time.Weekday
}

// Query selects one ranking page.
type Query struct {
	CourseID int64
	Limit    int
	Offset   int
	// GroupID restricts the all-time ranking to a course group. 0 means none.
	GroupID int64
	// Viewer, when set, is flagged IsSelf in the returned rows.
	Viewer int64
}

// Service serves course rankings.
type Service struct {
	store Store
	cache cache.Cache
	opts  Options
	now   func() time.Time
}

// NewService creates the read service. rc may be nil to disable caching.
func NewService(st Store, rc cache.Cache, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store: st,
		cache: rc,
		opts:  opts,
		now:   time.Now,
	}
}

// SetClock replaces the time source used to resolve periods.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ResolvePeriod resolves a named period at the current time.
func (s *Service) ResolvePeriod(name string) (start, end time.Time, ok bool, err error) {
	return ResolvePeriod(name, s.now(), s.opts.Location, s.opts.WeekStartDay)
}

// GetRanking returns one page of the all-time course ranking.
func (s *Service) GetRanking(ctx context.Context, q Query) (*model.Ranking, error) {
	q = s.normalize(q)
	key := cache.GeneralKey(q.CourseID, q.Limit, q.GroupID)
	return s.page(ctx, WindowGeneral, key, q, func() ([]model.Standing, error) {
		return s.store.CourseStandings(ctx, q.CourseID, q.GroupID)
	})
}

// GetRankingByWindow ranks users by the points they earned in [start, end].
// Group filtering does not apply to windowed rankings.
func (s *Service) GetRankingByWindow(ctx context.Context, q Query, start, end time.Time) (*model.Ranking, error) {
	if end.Before(start) {
		return nil, ErrInvalidWindow
	}
	q = s.normalize(q)
	q.GroupID = 0
	key := cache.DatedKey(q.CourseID, q.Limit, start, end)
	return s.page(ctx, WindowDated, key, q, func() ([]model.Standing, error) {
		return s.store.SumLogInWindow(ctx, q.CourseID, start, end)
	})
}

func (s *Service) normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = s.opts.DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// page serves a ranking page from the cache when it can. Pages at a
// non-zero offset are never cached.
func (s *Service) page(ctx context.Context, window, key string, q Query, load func() ([]model.Standing, error)) (*model.Ranking, error) {
	cacheable := s.cache != nil && q.Offset == 0

	if cacheable {
		r, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues(window, "error").Inc()
			slog.Warn("ranking cache read failed", "key", key, "err", err)
		case ok:
			metrics.CacheLookups.WithLabelValues(window, "hit").Inc()
			ranking.MarkSelf(r.Rows, q.Viewer)
			return &r, nil
		default:
			metrics.CacheLookups.WithLabelValues(window, "miss").Inc()
		}
	} else {
		metrics.CacheLookups.WithLabelValues(window, "bypass").Inc()
	}

	standings, err := load()
	if err != nil {
		return nil, fmt.Errorf("load %s ranking for course %d: %w", window, q.CourseID, err)
	}
	ranked := ranking.Rank(ranking.PositiveOnly(standings))

	r := model.Ranking{
		CourseID: q.CourseID,
		Window:   window,
		Offset:   q.Offset,
		Limit:    q.Limit,
		Total:    len(ranked),
		Rows:     ranking.Page(ranked, q.Offset, q.Limit),
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, r, s.opts.CacheTTL); err != nil {
			slog.Warn("ranking cache write failed", "key", key, "err", err)
		}
	}
	ranking.MarkSelf(r.Rows, q.Viewer)
	return &r, nil
}

// GetUserPosition reports the user's live points and position. The
// snapshot row answers the position only while it is at least as recent as
// the user's total; otherwise the position is counted live. Position is 0
// when the user has no positive total.
func (s *Service) GetUserPosition(ctx context.Context, courseID, userID int64) (*model.UserPosition, error) {
	pos := &model.UserPosition{
		UserID:   userID,
		CourseID: courseID,
		Points:   decimal.Zero,
	}

	pt, err := s.store.GetTotal(ctx, userID, courseID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		pt = nil
	case err != nil:
		return nil, fmt.Errorf("read total: %w", err)
	default:
		pos.Points = pt.Points
	}

	if pt != nil && pt.Points.IsPositive() {
		row, err := s.store.GetSnapshotRow(ctx, courseID, userID)
		switch {
		case err == nil && !row.LastUpdated.Before(pt.ModifiedAt):
			pos.Position = row.Position
			pos.TotalStudents = row.TotalUsers
			return pos, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("read snapshot: %w", err)
		}

		ahead, err := s.store.CountAhead(ctx, courseID, pt.Points)
		if err != nil {
			return nil, fmt.Errorf("count users ahead: %w", err)
		}
		pos.Position = ahead + 1
	}

	totalStudents, err := s.store.CountRanked(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("count ranked users: %w", err)
	}
	pos.TotalStudents = totalStudents
	return pos, nil
}

// GetUserPointsHistory returns the user's recent awards, most recent first.
func (s *Service) GetUserPointsHistory(ctx context.Context, courseID, userID int64, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.store.UserHistory(ctx, courseID, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}

// PointsEvolution returns points awarded per day in the course.
func (s *Service) PointsEvolution(ctx context.Context, courseID int64) ([]model.DailyPoints, error) {
	days, err := s.store.DailyPoints(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []model.DailyPoints{}
	}
	return days, nil
}

// InvalidateCourseCache drops every cached ranking page of the course.
func (s *Service) InvalidateCourseCache(ctx context.Context, courseID int64) error {
	if s.cache == nil {
		return nil
	}
	if err := cache.InvalidateCourse(ctx, s.cache, courseID); err != nil {
		metrics.CacheInvalidationFailures.Inc()
		return fmt.Errorf("invalidate course %d: %w", courseID, err)
	}
	return nil
}

// ExportUserData returns everything stored about the user.
func (s *Service) ExportUserData(ctx context.Context, userID int64) ([]model.UserExport, error) {
	exports, err := s.store.ExportUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if exports == nil {
		exports = []model.UserExport{}
	}
	return exports, nil
}

// DeleteCourseData purges the course's ledger and snapshot, then its cache.
func (s *Service) DeleteCourseData(ctx context.Context, courseID int64) error {
	if err := s.store.DeleteAllForCourse(ctx, courseID); err != nil {
		return fmt.Errorf("delete course %d: %w", courseID, err)
	}
	slog.Info("course data deleted", "course", courseID)
	s.invalidateQuietly(ctx, courseID)
	return nil
}

// DeleteUserData purges the user's ledger rows, in one course when courseID
// is non-nil, and invalidates every affected course's cache.
func (s *Service) DeleteUserData(ctx context.Context, userID int64, courseID *int64) ([]int64, error) {
	courses, err := s.store.DeleteAllForUser(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("delete user %d: %w", userID, err)
	}
	slog.Info("user data deleted", "user", userID, "courses", len(courses))
	for _, c := range courses {
		s.invalidateQuietly(ctx, c)
	}
	if courses == nil {
		courses = []int64{}
	}
	return courses, nil
}

func (s *Service) invalidateQuietly(ctx context.Context, courseID int64) {
	if err := s.InvalidateCourseCache(ctx, courseID); err != nil {
		slog.Warn("ranking cache invalidation failed", "course", courseID, "err", err)
	}
}
