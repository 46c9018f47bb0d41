package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Points are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Ledger ---

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&pgLedgerTx{q: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTotal(ctx context.Context, userID, courseID int64) (*model.PointsTotal, error) {
	return getTotal(ctx, s.pool, userID, courseID)
}

func (s *PostgresStore) CountPriorAwards(ctx context.Context, userID, courseID, completionRef int64) (int, error) {
	return countPriorAwards(ctx, s.pool, userID, courseID, completionRef)
}

type pgLedgerTx struct {
	q   querier
	now func() time.Time
}

func (t *pgLedgerTx) GetTotal(ctx context.Context, userID, courseID int64) (*model.PointsTotal, error) {
	return getTotal(ctx, t.q, userID, courseID)
}

func (t *pgLedgerTx) UpsertIncrement(ctx context.Context, userID, courseID int64, delta decimal.Decimal) (*model.PointsTotal, error) {
	var pt model.PointsTotal
	var points string
	now := t.now()

	// ON CONFLICT takes the row lock, so concurrent awards for the same
	// (user, course) serialize here until commit.
	err := t.q.QueryRow(ctx,
		`INSERT INTO points_totals (id, user_id, course_id, points, created_at, modified_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $5)
		 ON CONFLICT (user_id, course_id) DO UPDATE
		 SET points = points_totals.points + EXCLUDED.points,
		     modified_at = EXCLUDED.modified_at
		 RETURNING id::TEXT, user_id, course_id, points::TEXT, created_at, modified_at`,
		uuid.New().String(), userID, courseID, delta.String(), now,
	).Scan(&pt.ID, &pt.UserID, &pt.CourseID, &points, &pt.CreatedAt, &pt.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert total user=%d course=%d: %w", userID, courseID, err)
	}
	pt.Points, _ = decimal.NewFromString(points)
	return &pt, nil
}

func (t *pgLedgerTx) AppendLog(ctx context.Context, pointsTotalID string, courseID int64, completionRef *int64, delta decimal.Decimal) (*model.AwardLogEntry, error) {
	e := &model.AwardLogEntry{
		ID:            uuid.New().String(),
		PointsTotalID: pointsTotalID,
		CourseID:      courseID,
		CompletionRef: completionRef,
		Points:        delta,
		CreatedAt:     t.now(),
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO award_log (id, points_total_id, course_id, completion_ref, points, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		e.ID, e.PointsTotalID, e.CourseID, e.CompletionRef, e.Points.String(), e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append award log: %w", err)
	}
	return e, nil
}

func (t *pgLedgerTx) CountPriorAwards(ctx context.Context, userID, courseID, completionRef int64) (int, error) {
	return countPriorAwards(ctx, t.q, userID, courseID, completionRef)
}

func getTotal(ctx context.Context, q querier, userID, courseID int64) (*model.PointsTotal, error) {
	var pt model.PointsTotal
	var points string

	err := q.QueryRow(ctx,
		`SELECT id::TEXT, user_id, course_id, points::TEXT, created_at, modified_at
		 FROM points_totals WHERE user_id = $1 AND course_id = $2`, userID, courseID).
		Scan(&pt.ID, &pt.UserID, &pt.CourseID, &points, &pt.CreatedAt, &pt.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get total user=%d course=%d: %w", userID, courseID, err)
	}
	pt.Points, _ = decimal.NewFromString(points)
	return &pt, nil
}

func countPriorAwards(ctx context.Context, q querier, userID, courseID, completionRef int64) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM points_totals p
		 JOIN award_log l ON l.points_total_id = p.id
		 WHERE p.user_id = $1 AND p.course_id = $2 AND l.completion_ref = $3`,
		userID, courseID, completionRef).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prior awards: %w", err)
	}
	return n, nil
}

// --- Rankings ---

func (s *PostgresStore) CourseStandings(ctx context.Context, courseID, groupID int64) ([]model.Standing, error) {
	var rows pgx.Rows
	var err error
	if groupID == 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT user_id, points::TEXT, created_at
			 FROM points_totals WHERE course_id = $1`, courseID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT p.user_id, p.points::TEXT, p.created_at
			 FROM points_totals p
			 JOIN group_members gm ON gm.user_id = p.user_id AND gm.group_id = $2
			 WHERE p.course_id = $1`, courseID, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("course standings %d: %w", courseID, err)
	}
	defer rows.Close()

	return scanStandings(rows)
}

func (s *PostgresStore) SumLogInWindow(ctx context.Context, courseID int64, start, end time.Time) ([]model.Standing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.user_id, SUM(l.points)::TEXT, MIN(p.created_at)
		 FROM award_log l
		 JOIN points_totals p ON p.id = l.points_total_id
		 WHERE l.course_id = $1 AND l.created_at BETWEEN $2 AND $3
		 GROUP BY p.user_id`, courseID, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum log window %d: %w", courseID, err)
	}
	defer rows.Close()

	return scanStandings(rows)
}

func (s *PostgresStore) ListCourses(ctx context.Context, positiveOnly bool) ([]int64, error) {
	sql := `SELECT DISTINCT course_id FROM points_totals ORDER BY course_id`
	if positiveOnly {
		sql = `SELECT DISTINCT course_id FROM points_totals WHERE points > 0 ORDER BY course_id`
	}
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountRanked(ctx context.Context, courseID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM points_totals WHERE course_id = $1 AND points > 0`, courseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ranked %d: %w", courseID, err)
	}
	return n, nil
}

func (s *PostgresStore) CountAhead(ctx context.Context, courseID int64, points decimal.Decimal) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM points_totals WHERE course_id = $1 AND points > $2::NUMERIC`,
		courseID, points.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ahead %d: %w", courseID, err)
	}
	return n, nil
}

func (s *PostgresStore) UserHistory(ctx context.Context, courseID, userID int64, limit int) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id::TEXT, l.points::TEXT, l.created_at, COALESCE(c.activity_type, '')
		 FROM award_log l
		 JOIN points_totals p ON p.id = l.points_total_id
		 LEFT JOIN completions c ON c.id = l.completion_ref
		 WHERE p.user_id = $1 AND p.course_id = $2
		 ORDER BY l.created_at DESC, l.id
		 LIMIT $3`, userID, courseID, limit)
	if err != nil {
		return nil, fmt.Errorf("user history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var points string
		if err := rows.Scan(&e.ID, &points, &e.Timestamp, &e.ActivityType); err != nil {
			return nil, err
		}
		e.Points, _ = decimal.NewFromString(points)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DailyPoints(ctx context.Context, courseID int64) ([]model.DailyPoints, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, SUM(points)::TEXT
		 FROM award_log
		 WHERE course_id = $1
		 GROUP BY day
		 ORDER BY day`, courseID)
	if err != nil {
		return nil, fmt.Errorf("daily points %d: %w", courseID, err)
	}
	defer rows.Close()

	var days []model.DailyPoints
	for rows.Next() {
		var dp model.DailyPoints
		var points string
		if err := rows.Scan(&dp.Day, &points); err != nil {
			return nil, err
		}
		dp.Day = dp.Day.UTC()
		dp.Points, _ = decimal.NewFromString(points)
		days = append(days, dp)
	}
	return days, rows.Err()
}

// --- Snapshots ---

func (s *PostgresStore) ReplaceSnapshot(ctx context.Context, courseID int64, rows []model.RankingSnapshotRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM ranking_snapshot WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("clear snapshot %d: %w", courseID, err)
	}

	src := make([][]any, 0, len(rows))
	for _, r := range rows {
		var points pgtype.Numeric
		if err := points.Scan(r.Points.String()); err != nil {
			return fmt.Errorf("encode snapshot points: %w", err)
		}
		src = append(src, []any{
			r.CourseID, r.UserID, points, int32(r.Position), int32(r.TotalUsers), r.LastUpdated,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ranking_snapshot"},
		[]string{"course_id", "user_id", "points", "position", "total_users", "last_updated"},
		pgx.CopyFromRows(src),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", courseID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot %d: %w", courseID, err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshotRow(ctx context.Context, courseID, userID int64) (*model.RankingSnapshotRow, error) {
	var r model.RankingSnapshotRow
	var points string

	err := s.pool.QueryRow(ctx,
		`SELECT course_id, user_id, points::TEXT, position, total_users, last_updated
		 FROM ranking_snapshot WHERE course_id = $1 AND user_id = $2`, courseID, userID).
		Scan(&r.CourseID, &r.UserID, &points, &r.Position, &r.TotalUsers, &r.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot row: %w", err)
	}
	r.Points, _ = decimal.NewFromString(points)
	return &r, nil
}

// --- Records ---

func (s *PostgresStore) GetCompletion(ctx context.Context, id int64) (*model.Completion, error) {
	var c model.Completion
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, course_id, activity_type, state, modified_at
		 FROM completions WHERE id = $1`, id).
		Scan(&c.ID, &c.UserID, &c.CourseID, &c.ActivityType, &c.State, &c.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get completion %d: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) PutCompletion(ctx context.Context, c *model.Completion) error {
	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO completions (id, user_id, course_id, activity_type, state, modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET user_id = EXCLUDED.user_id, course_id = EXCLUDED.course_id,
		     activity_type = EXCLUDED.activity_type, state = EXCLUDED.state,
		     modified_at = EXCLUDED.modified_at`,
		c.ID, c.UserID, c.CourseID, c.ActivityType, c.State, c.ModifiedAt,
	)
	return err
}

func (s *PostgresStore) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, groupID, userID)
	return err
}

// --- Privacy ---

func (s *PostgresStore) ExportUser(ctx context.Context, userID int64) ([]model.UserExport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, course_id, points::TEXT, created_at, modified_at
		 FROM points_totals WHERE user_id = $1 ORDER BY course_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("export totals: %w", err)
	}
	var exports []model.UserExport
	for rows.Next() {
		var pt model.PointsTotal
		var points string
		if err := rows.Scan(&pt.ID, &pt.UserID, &pt.CourseID, &points, &pt.CreatedAt, &pt.ModifiedAt); err != nil {
			rows.Close()
			return nil, err
		}
		pt.Points, _ = decimal.NewFromString(points)
		exports = append(exports, model.UserExport{Total: pt})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range exports {
		logRows, err := s.pool.Query(ctx,
			`SELECT id::TEXT, points_total_id::TEXT, course_id, completion_ref, points::TEXT, created_at
			 FROM award_log WHERE points_total_id = $1 ORDER BY created_at`, exports[i].Total.ID)
		if err != nil {
			return nil, fmt.Errorf("export logs: %w", err)
		}
		exports[i].Logs, err = scanLogEntries(logRows)
		logRows.Close()
		if err != nil {
			return nil, err
		}
	}
	return exports, nil
}

func (s *PostgresStore) DeleteAllForCourse(ctx context.Context, courseID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin purge tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Logs first: they reference totals.
	for _, sql := range []string{
		`DELETE FROM award_log WHERE course_id = $1`,
		`DELETE FROM points_totals WHERE course_id = $1`,
		`DELETE FROM ranking_snapshot WHERE course_id = $1`,
	} {
		if _, err := tx.Exec(ctx, sql, courseID); err != nil {
			return fmt.Errorf("purge course %d: %w", courseID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID int64, courseID *int64) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin purge tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	rows, err := tx.Query(ctx,
		`DELETE FROM points_totals
		 WHERE user_id = $1 AND ($2::BIGINT IS NULL OR course_id = $2)
		 RETURNING course_id`, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("purge user %d: %w", userID, err)
	}
	var courses []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		courses = append(courses, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// award_log rows go with their totals via ON DELETE CASCADE.
	if _, err := tx.Exec(ctx,
		`DELETE FROM ranking_snapshot
		 WHERE user_id = $1 AND ($2::BIGINT IS NULL OR course_id = $2)`, userID, courseID); err != nil {
		return nil, fmt.Errorf("purge user snapshot %d: %w", userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return courses, nil
}

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanStandings(rows pgxRows) ([]model.Standing, error) {
	var standings []model.Standing
	for rows.Next() {
		var st model.Standing
		var points string
		if err := rows.Scan(&st.UserID, &points, &st.Since); err != nil {
			return nil, err
		}
		st.Points, _ = decimal.NewFromString(points)
		standings = append(standings, st)
	}
	return standings, rows.Err()
}

func scanLogEntries(rows pgxRows) ([]model.AwardLogEntry, error) {
	var entries []model.AwardLogEntry
	for rows.Next() {
		var e model.AwardLogEntry
		var points string
		if err := rows.Scan(&e.ID, &e.PointsTotalID, &e.CourseID, &e.CompletionRef, &points, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Points, _ = decimal.NewFromString(points)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
