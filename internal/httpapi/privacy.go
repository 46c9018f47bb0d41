package httpapi

import (
	"net/http"
	"strconv"
)

// ExportUser handles GET /api/v1/users/{userID}/export
func (h *Handler) ExportUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	exports, err := h.board.ExportUserData(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"courses": exports,
	})
}

// DeleteCourseData handles DELETE /api/v1/courses/{courseID}/data
func (h *Handler) DeleteCourseData(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "courseID")
	if !ok {
		return
	}
	if err := h.board.DeleteCourseData(r.Context(), courseID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteUserData handles DELETE /api/v1/users/{userID}/data?course={courseID}
func (h *Handler) DeleteUserData(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var courseID *int64
	if raw := r.URL.Query().Get("course"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, "invalid course", http.StatusBadRequest)
			return
		}
		courseID = &id
	}

	courses, err := h.board.DeleteUserData(r.Context(), userID, courseID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"courses": courses,
	})
}
