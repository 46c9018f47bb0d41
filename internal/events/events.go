// Package events turns LMS activity events into award calls. It owns the
// decision the award engine leaves to its caller: whether the event should
// pay out at all.
package events

import (
	"github.com/shopspring/decimal"
)

// Event is an LMS event the observer understands.
type Event interface {
	// Completion is the completion record the event refers to.
	Completion() int64
	// Student reports whether the acting user holds a student role.
	Student() bool
	kind() string
}

// ActivityCompleted fires when an activity completion changes state.
type ActivityCompleted struct {
	CompletionID int64 `json:"completion_id" validate:"required,gt=0"`
	UserID       int64 `json:"user_id" validate:"required,gt=0"`
	CourseID     int64 `json:"course_id" validate:"required,gt=0"`
	IsStudent    bool  `json:"is_student"`
}

func (e ActivityCompleted) Completion() int64 { return e.CompletionID }
func (e ActivityCompleted) Student() bool     { return e.IsStudent }
func (ActivityCompleted) kind() string        { return "activity_completed" }

// QuizAttemptSubmitted fires when a student submits a quiz attempt.
type QuizAttemptSubmitted struct {
	CompletionID int64            `json:"completion_id" validate:"required,gt=0"`
	UserID       int64            `json:"user_id" validate:"required,gt=0"`
	CourseID     int64            `json:"course_id" validate:"required,gt=0"`
	Grade        *decimal.Decimal `json:"grade"`
	IsStudent    bool             `json:"is_student"`
}

func (e QuizAttemptSubmitted) Completion() int64 { return e.CompletionID }
func (e QuizAttemptSubmitted) Student() bool     { return e.IsStudent }
func (QuizAttemptSubmitted) kind() string        { return "quiz_attempt_submitted" }
