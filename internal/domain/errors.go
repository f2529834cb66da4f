package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrLessonNotFound is returned when a lesson is missing or has no questions.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrSessionNotFound covers both missing sessions and sessions owned by someone else.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrActiveSession indicates a live session already exists for the user and lesson.
	ErrActiveSession = errors.New("active session exists")
	// ErrSessionExpired is returned when an answer arrives after the deadline.
	ErrSessionExpired = errors.New("quiz session expired")
	// ErrInvalidQuestion indicates the question is not part of the session's lesson.
	ErrInvalidQuestion = errors.New("question not valid for this session")
	// ErrDuplicateAnswer is returned when a question was already answered in the session.
	ErrDuplicateAnswer = errors.New("question already answered")
	// ErrSessionCompleted is returned when finishing a session twice.
	ErrSessionCompleted = errors.New("quiz session already completed")
	ErrProgressNotFound = errors.New("progress not found")
	ErrReportNotFound   = errors.New("feedback report not found")
	ErrJobNotFound      = errors.New("feedback job not found")
	// ErrJobNotClaimable is returned when another dispatcher already owns the job.
	ErrJobNotClaimable = errors.New("feedback job not claimable")
)

// ActiveSessionError carries the id of the live session that blocked a start.
type ActiveSessionError struct {
	SessionID uuid.UUID
}

func (e *ActiveSessionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrActiveSession.Error(), e.SessionID)
}

func (e *ActiveSessionError) Is(target error) bool {
	return target == ErrActiveSession
}
