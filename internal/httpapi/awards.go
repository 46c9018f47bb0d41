package httpapi

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/courserank/ranking-engine/internal/award"
	"github.com/courserank/ranking-engine/internal/events"
	"github.com/courserank/ranking-engine/internal/model"
)

// AwardRequest is the JSON body for POST /awards.
type AwardRequest struct {
	CompletionID    int64            `json:"completion_id" validate:"required,gt=0"`
	Grade           *decimal.Decimal `json:"grade"`
	RejectDuplicate bool             `json:"reject_duplicate"`
}

// CompletionRequest is the JSON body for PUT /completions/{completionID}.
type CompletionRequest struct {
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	CourseID     int64  `json:"course_id" validate:"required,gt=0"`
	ActivityType string `json:"activity_type" validate:"required,max=64"`
	State        int    `json:"state" validate:"gte=0,lte=3"`
}

// ActivityCompleted handles POST /api/v1/events/activity-completed
func (h *Handler) ActivityCompleted(w http.ResponseWriter, r *http.Request) {
	var ev events.ActivityCompleted
	if !h.decode(w, r, &ev) {
		return
	}
	h.handleEvent(w, r, ev)
}

// QuizSubmitted handles POST /api/v1/events/quiz-submitted
func (h *Handler) QuizSubmitted(w http.ResponseWriter, r *http.Request) {
	var ev events.QuizAttemptSubmitted
	if !h.decode(w, r, &ev) {
		return
	}
	if ev.Grade != nil && ev.Grade.IsNegative() {
		writeError(w, "grade must not be negative", http.StatusBadRequest)
		return
	}
	h.handleEvent(w, r, ev)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request, ev events.Event) {
	out, err := h.events.Handle(r.Context(), ev)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if out.Status == events.StatusAwarded {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

// Award handles POST /api/v1/awards. It calls the award engine directly,
// without the observer's de-duplication.
func (h *Handler) Award(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Grade != nil && req.Grade.IsNegative() {
		writeError(w, "grade must not be negative", http.StatusBadRequest)
		return
	}

	res, err := h.awarder.AwardPoints(r.Context(), award.Request{
		CompletionID:    req.CompletionID,
		Grade:           req.Grade,
		RejectDuplicate: req.RejectDuplicate,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// PutCompletion handles PUT /api/v1/completions/{completionID}
func (h *Handler) PutCompletion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "completionID")
	if !ok {
		return
	}
	var req CompletionRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := &model.Completion{
		ID:           id,
		UserID:       req.UserID,
		CourseID:     req.CourseID,
		ActivityType: req.ActivityType,
		State:        req.State,
		ModifiedAt:   time.Now().UTC(),
	}
	if err := h.records.PutCompletion(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddGroupMember handles PUT /api/v1/groups/{groupID}/members/{userID}
func (h *Handler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.records.AddGroupMember(r.Context(), groupID, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
