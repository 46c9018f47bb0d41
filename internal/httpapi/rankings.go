package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/courserank/ranking-engine/internal/leaderboard"
	"github.com/courserank/ranking-engine/internal/model"
)

// noStudentsMessage accompanies an empty ranking.
const noStudentsMessage = "No students to show"

// RankingParams are the query parameters of GET /courses/{courseID}/ranking.
type RankingParams struct {
	Limit  int    `validate:"gte=0,lte=1000"`
	Offset int    `validate:"gte=0"`
	Group  int64  `validate:"gte=0"`
	Viewer int64  `validate:"gte=0"`
	Period string `validate:"omitempty,oneof=all weekly monthly"`
	Start  string `validate:"required_with=End"`
	End    string `validate:"required_with=Start"`
}

// RankingResponse is a ranking page, with a message when it is empty.
type RankingResponse struct {
	*model.Ranking
	Message string `json:"message,omitempty"`
}

func queryInt(q map[string][]string, key string) (int64, bool) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(vals[0], 10, 64)
	return n, err == nil
}

// parseTime accepts RFC 3339 or Unix seconds.
func parseTime(raw string) (time.Time, bool) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, err == nil
}

// GetRanking handles GET /api/v1/courses/{courseID}/ranking
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}

	q := r.URL.Query()
	var p RankingParams
	for key, dst := range map[string]*int64{"group": &p.Group, "viewer": &p.Viewer} {
		v, ok := queryInt(q, key)
		if !ok {
			writeError(w, "invalid "+key, http.StatusBadRequest)
			return
		}
		*dst = v
	}
	for key, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		v, ok := queryInt(q, key)
		if !ok {
			writeError(w, "invalid "+key, http.StatusBadRequest)
			return
		}
		*dst = int(v)
	}
	p.Period = q.Get("period")
	p.Start = q.Get("start")
	p.End = q.Get("end")
	if err := h.validate.Struct(p); err != nil {
		writeValidationError(w, err)
		return
	}

	query := leaderboard.Query{
		CourseID: courseID,
		Limit:    p.Limit,
		Offset:   p.Offset,
		GroupID:  p.Group,
		Viewer:   p.Viewer,
	}

	var (
		start, end time.Time
		windowed   bool
	)
	if p.Start != "" {
		var okStart, okEnd bool
		start, okStart = parseTime(p.Start)
		end, okEnd = parseTime(p.End)
		if !okStart || !okEnd {
			writeError(w, "start and end must be RFC 3339 or unix seconds", http.StatusBadRequest)
			return
		}
		windowed = true
	} else {
		var err error
		start, end, windowed, err = h.board.ResolvePeriod(p.Period)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	var (
		ranking *model.Ranking
		err     error
	)
	if windowed {
		ranking, err = h.board.GetRankingByWindow(r.Context(), query, start, end)
	} else {
		ranking, err = h.board.GetRanking(r.Context(), query)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := RankingResponse{Ranking: ranking}
	if ranking.Empty() {
		resp.Message = noStudentsMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUserPosition handles GET /api/v1/courses/{courseID}/users/{userID}/position
func (h *Handler) GetUserPosition(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	pos, err := h.board.GetUserPosition(r.Context(), courseID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetUserHistory handles GET /api/v1/courses/{courseID}/users/{userID}/history
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	limit, ok := queryInt(r.URL.Query(), "limit")
	if !ok || limit < 0 {
		writeError(w, "invalid limit", http.StatusBadRequest)
		return
	}

	entries, err := h.board.GetUserPointsHistory(r.Context(), courseID, userID, int(limit))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"course_id": courseID,
		"user_id":   userID,
		"entries":   entries,
	})
}

// GetEvolution handles GET /api/v1/courses/{courseID}/evolution
func (h *Handler) GetEvolution(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	days, err := h.board.PointsEvolution(r.Context(), courseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"course_id": courseID,
		"days":      days,
	})
}

// InvalidateCache handles POST /api/v1/courses/{courseID}/cache/invalidate
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	if err := h.board.InvalidateCourseCache(r.Context(), courseID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshSnapshots handles POST /api/v1/admin/snapshot/refresh
func (h *Handler) RefreshSnapshots(w http.ResponseWriter, r *http.Request) {
	summary, err := h.refresher.RefreshAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
