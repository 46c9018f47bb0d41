package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courserank/ranking-engine/internal/model"
	"github.com/courserank/ranking-engine/internal/notify"
	"github.com/courserank/ranking-engine/internal/snapshot"
	"github.com/courserank/ranking-engine/internal/store"
)

func award(t *testing.T, ms *store.MemoryStore, userID, courseID int64, pts int64) {
	t.Helper()
	err := ms.InTx(context.Background(), func(tx store.LedgerTx) error {
		pt, err := tx.UpsertIncrement(context.Background(), userID, courseID, decimal.NewFromInt(pts))
		if err != nil {
			return err
		}
		_, err = tx.AppendLog(context.Background(), pt.ID, courseID, nil, decimal.NewFromInt(pts))
		return err
	})
	require.NoError(t, err)
}

// flakyStore fails the snapshot write of one course.
type flakyStore struct {
	*store.MemoryStore
	failCourse int64
}

func (f flakyStore) ReplaceSnapshot(ctx context.Context, courseID int64, rows []model.RankingSnapshotRow) error {
	if courseID == f.failCourse {
		return errors.New("deadlock detected")
	}
	return f.MemoryStore.ReplaceSnapshot(ctx, courseID, rows)
}

func TestRefreshCourse_GapPositionsAndTotals(t *testing.T) {
	ms := store.NewMemoryStore()
	award(t, ms, 1, 10, 50)
	award(t, ms, 2, 10, 50)
	award(t, ms, 3, 10, 30)
	award(t, ms, 4, 10, 0)

	n, err := snapshot.NewRefresher(ms, 1).RefreshCourse(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "zero-point users are not ranked")

	rows := ms.SnapshotRows(10)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{1, 1, 3}, []int{rows[0].Position, rows[1].Position, rows[2].Position})
	for _, r := range rows {
		assert.Equal(t, 3, r.TotalUsers)
		assert.False(t, r.LastUpdated.IsZero())
	}
}

func TestRefreshCourse_ReplacesPreviousRows(t *testing.T) {
	ms := store.NewMemoryStore()
	award(t, ms, 1, 10, 50)
	ref := snapshot.NewRefresher(ms, 1)
	_, err := ref.RefreshCourse(context.Background(), 10)
	require.NoError(t, err)

	award(t, ms, 2, 10, 80)
	_, err = ref.RefreshCourse(context.Background(), 10)
	require.NoError(t, err)

	rows := ms.SnapshotRows(10)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].UserID)
	assert.Equal(t, 2, rows[1].Position)
}

func TestRefreshAll_IsolatesFailures(t *testing.T) {
	ms := store.NewMemoryStore()
	for course := int64(1); course <= 5; course++ {
		award(t, ms, 7, course, 10)
		award(t, ms, 8, course, 20)
	}
	award(t, ms, 9, 6, 0) // course with no positive totals is skipped

	summary, err := snapshot.NewRefresher(flakyStore{ms, 3}, 2).RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Courses)
	assert.Equal(t, []int64{3}, summary.Failed)
	assert.Equal(t, 8, summary.Rows)
	for _, course := range []int64{1, 2, 4, 5} {
		assert.Len(t, ms.SnapshotRows(course), 2, "course %d", course)
	}
	assert.Empty(t, ms.SnapshotRows(3))
}

func TestRun_StopsOnCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	award(t, ms, 7, 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		snapshot.NewRefresher(ms, 1).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(ms.SnapshotRows(1)) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail int64
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.UserID == r.fail {
		return errors.New("mailbox full")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestWeeklySummary_Send(t *testing.T) {
	ms := store.NewMemoryStore()
	award(t, ms, 1, 10, 40)
	award(t, ms, 2, 10, 40)
	award(t, ms, 3, 10, 10)
	award(t, ms, 1, 11, 5)

	rec := &recorder{fail: 2}
	sent, err := snapshot.NewWeeklySummary(ms, rec).Send(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sent, "user 2 fails in course 10, everyone else is delivered")
	positions := map[[2]int64]int{}
	for _, m := range rec.msgs {
		assert.Equal(t, notify.KindWeeklySummary, m.Kind)
		positions[[2]int64{m.CourseID, m.UserID}] = m.Position
	}
	assert.Equal(t, 1, positions[[2]int64{10, 1}])
	assert.Equal(t, 3, positions[[2]int64{10, 3}], "gap ranking after a tie for first")
	assert.Equal(t, 1, positions[[2]int64{11, 1}])
}
