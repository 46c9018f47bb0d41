package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courserank/ranking-engine/internal/award"
	"github.com/courserank/ranking-engine/internal/events"
	"github.com/courserank/ranking-engine/internal/model"
	"github.com/courserank/ranking-engine/internal/notify"
	"github.com/courserank/ranking-engine/internal/store"
)

type recorder struct {
	msgs []notify.Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) kinds() []notify.Kind {
	out := make([]notify.Kind, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Kind
	}
	return out
}

type env struct {
	ms  *store.MemoryStore
	rec *recorder
	obs *events.Observer
}

func newEnv(t *testing.T, opts events.Options) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	rec := &recorder{}
	eng := award.NewEngine(ms, nil, award.DefaultPolicy())
	return &env{ms: ms, rec: rec, obs: events.NewObserver(eng, ms, rec, opts)}
}

func (e *env) completion(t *testing.T, id, userID, courseID int64, activity string) {
	t.Helper()
	require.NoError(t, e.ms.PutCompletion(context.Background(), &model.Completion{
		ID: id, UserID: userID, CourseID: courseID, ActivityType: activity, State: 1,
	}))
}

func completed(id, userID, courseID int64) events.ActivityCompleted {
	return events.ActivityCompleted{CompletionID: id, UserID: userID, CourseID: courseID, IsStudent: true}
}

func total(t *testing.T, ms *store.MemoryStore, userID, courseID int64) decimal.Decimal {
	t.Helper()
	pt, err := ms.GetTotal(context.Background(), userID, courseID)
	require.NoError(t, err)
	return pt.Points
}

func TestHandle_NonStudentIgnored(t *testing.T) {
	e := newEnv(t, events.Options{})
	e.completion(t, 100, 7, 1, "page")

	ev := completed(100, 7, 1)
	ev.IsStudent = false
	out, err := e.obs.Handle(context.Background(), ev)

	require.NoError(t, err)
	assert.Equal(t, events.StatusNotStudent, out.Status)
	assert.Empty(t, e.ms.LogEntries())
	assert.Empty(t, e.rec.msgs)
}

func TestHandle_ActivityDedup(t *testing.T) {
	e := newEnv(t, events.Options{})
	e.completion(t, 100, 7, 1, "page")

	out, err := e.obs.Handle(context.Background(), completed(100, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, events.StatusAwarded, out.Status)

	out, err = e.obs.Handle(context.Background(), completed(100, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, events.StatusDuplicate, out.Status)
	assert.True(t, total(t, e.ms, 7, 1).Equal(decimal.NewFromInt(2)))
}

func TestHandle_QuizAttempts(t *testing.T) {
	grade := decimal.NewFromInt(80)
	quiz := events.QuizAttemptSubmitted{CompletionID: 100, UserID: 7, CourseID: 1, Grade: &grade, IsStudent: true}

	t.Run("multiple attempts pay every time", func(t *testing.T) {
		e := newEnv(t, events.Options{MultipleQuizAttempts: true})
		e.completion(t, 100, 7, 1, "quiz")
		for i := 0; i < 2; i++ {
			out, err := e.obs.Handle(context.Background(), quiz)
			require.NoError(t, err)
			assert.Equal(t, events.StatusAwarded, out.Status)
		}
		assert.True(t, total(t, e.ms, 7, 1).Equal(decimal.NewFromInt(20)))
	})

	t.Run("first attempt only", func(t *testing.T) {
		e := newEnv(t, events.Options{MultipleQuizAttempts: false})
		e.completion(t, 100, 7, 1, "quiz")
		_, err := e.obs.Handle(context.Background(), quiz)
		require.NoError(t, err)
		out, err := e.obs.Handle(context.Background(), quiz)
		require.NoError(t, err)
		assert.Equal(t, events.StatusDuplicate, out.Status)
		assert.True(t, total(t, e.ms, 7, 1).Equal(decimal.NewFromInt(10)))
	})
}

func TestHandle_IncompleteCompletion(t *testing.T) {
	e := newEnv(t, events.Options{})
	require.NoError(t, e.ms.PutCompletion(context.Background(), &model.Completion{
		ID: 100, UserID: 7, CourseID: 1, ActivityType: "page", State: model.CompletionStateIncomplete,
	}))

	out, err := e.obs.Handle(context.Background(), completed(100, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, events.StatusIncomplete, out.Status)
	assert.Empty(t, e.rec.msgs)
}

func TestHandle_InvalidCompletion(t *testing.T) {
	e := newEnv(t, events.Options{})
	_, err := e.obs.Handle(context.Background(), completed(404, 7, 1))
	assert.ErrorIs(t, err, award.ErrInvalidCompletion)
}

func TestHandle_EventMustMatchCompletion(t *testing.T) {
	e := newEnv(t, events.Options{})
	e.completion(t, 100, 7, 1, "page")

	// First event claims user 8: rejected, so it cannot bypass de-dup for user 7.
	_, err := e.obs.Handle(context.Background(), completed(100, 8, 1))
	assert.ErrorIs(t, err, events.ErrCompletionMismatch)
	_, err = e.obs.Handle(context.Background(), completed(100, 7, 2))
	assert.ErrorIs(t, err, events.ErrCompletionMismatch)
	assert.Empty(t, e.ms.LogEntries())

	out, err := e.obs.Handle(context.Background(), completed(100, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, events.StatusAwarded, out.Status)
	out, err = e.obs.Handle(context.Background(), completed(100, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, events.StatusDuplicate, out.Status)
	assert.True(t, total(t, e.ms, 7, 1).Equal(decimal.NewFromInt(2)))
}

func TestHandle_AnnouncesTransitions(t *testing.T) {
	e := newEnv(t, events.Options{})
	// Users 1..3 hold the podium with 8, 6 and 4 points; user 4 has 2.
	var id int64 = 1
	for user, n := range map[int64]int{1: 4, 2: 3, 3: 2, 4: 1} {
		for i := 0; i < n; i++ {
			e.completion(t, id, user, 1, "page")
			_, err := e.obs.Handle(context.Background(), completed(id, user, 1))
			require.NoError(t, err)
			id++
		}
	}
	e.rec.msgs = nil

	// A quiz worth 2 + 10 lifts user 4 from 2 to 14 points.
	grade := decimal.NewFromInt(100)
	e.completion(t, 500, 4, 1, "quiz")
	out, err := e.obs.Handle(context.Background(), events.QuizAttemptSubmitted{
		CompletionID: 500, UserID: 4, CourseID: 1, Grade: &grade, IsStudent: true,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Transition)

	assert.Equal(t, 4, out.Transition.OldPosition)
	assert.Equal(t, 1, out.Transition.NewPosition)
	assert.True(t, out.Transition.EnteredTopThree)
	assert.ElementsMatch(t, []int64{1, 2, 3}, out.Transition.Overtaken)

	assert.Equal(t, []notify.Kind{
		notify.KindPointsAwarded, notify.KindTopThree,
		notify.KindOvertaken, notify.KindOvertaken, notify.KindOvertaken,
	}, e.rec.kinds())
	for _, m := range e.rec.msgs[2:] {
		assert.Equal(t, int64(4), m.ByUserID)
	}
}

func TestHandle_NotificationFailureKeepsAward(t *testing.T) {
	e := newEnv(t, events.Options{})
	e.rec.err = errors.New("push gateway down")
	e.completion(t, 100, 7, 1, "page")

	out, err := e.obs.Handle(context.Background(), completed(100, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, events.StatusAwarded, out.Status)
	assert.True(t, total(t, e.ms, 7, 1).Equal(decimal.NewFromInt(2)))
}
