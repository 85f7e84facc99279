package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a rejected submission.
type ErrorKind string

const (
	KindFieldValidation       ErrorKind = "field_validation"
	KindReferenceNotFound     ErrorKind = "reference_not_found"
	KindDuplicateRegistration ErrorKind = "duplicate_registration"
	KindTeamConflict          ErrorKind = "team_conflict"
	KindTransient             ErrorKind = "transient"
)

// TeamConflictReason explains a TeamConflict rejection.
type TeamConflictReason string

const (
	TeamNotFound         TeamConflictReason = "team_not_found"
	TeamCreationConflict TeamConflictReason = "team_creation_conflict"
)

// FieldError is a single rule violation reported to the submitter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SubmissionError is the only error a submission returns for business
// rejections. Field is set for ReferenceNotFound and DuplicateRegistration.
type SubmissionError struct {
	Kind   ErrorKind
	Field  string
	Reason TeamConflictReason
	Fields []FieldError
	Err    error
}

func (e *SubmissionError) Error() string {
	switch e.Kind {
	case KindFieldValidation:
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return "invalid submission: " + strings.Join(parts, "; ")
	case KindReferenceNotFound:
		return fmt.Sprintf("%s does not reference an existing record", e.Field)
	case KindDuplicateRegistration:
		return fmt.Sprintf("a participant with this %s is already registered", e.Field)
	case KindTeamConflict:
		return "team conflict: " + string(e.Reason)
	case KindTransient:
		if e.Err != nil {
			return "temporarily unavailable: " + e.Err.Error()
		}
		return "temporarily unavailable"
	default:
		return string(e.Kind)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same payload may succeed.
func (e *SubmissionError) Retryable() bool { return e.Kind == KindTransient }

// Message is the human readable description returned to clients.
func (e *SubmissionError) Message() string {
	switch e.Kind {
	case KindFieldValidation:
		if len(e.Fields) > 0 {
			return e.Fields[0].Message
		}
		return "Invalid submission"
	case KindReferenceNotFound:
		switch e.Field {
		case "university_id":
			return "University not found"
		case "category_id":
			return "Category not found"
		}
		return "Referenced record not found"
	case KindDuplicateRegistration:
		switch e.Field {
		case "email":
			return "Email already registered"
		case "telegram":
			return "Telegram already registered"
		}
		return "Participant already registered"
	case KindTeamConflict:
		if e.Reason == TeamNotFound {
			return "Team not found"
		}
		return "Team could not be created, please try again"
	case KindTransient:
		return "Service temporarily unavailable, please retry"
	}
	return "Submission rejected"
}

func NewFieldValidation(fields []FieldError) *SubmissionError {
	return &SubmissionError{Kind: KindFieldValidation, Fields: fields}
}

func NewReferenceNotFound(field string) *SubmissionError {
	return &SubmissionError{Kind: KindReferenceNotFound, Field: field}
}

func NewDuplicateRegistration(field string) *SubmissionError {
	return &SubmissionError{Kind: KindDuplicateRegistration, Field: field}
}

func NewTeamConflict(reason TeamConflictReason) *SubmissionError {
	return &SubmissionError{Kind: KindTeamConflict, Reason: reason}
}

func NewTransient(err error) *SubmissionError {
	return &SubmissionError{Kind: KindTransient, Err: err}
}

// AsSubmissionError unwraps err to a SubmissionError if there is one.
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsKind reports whether err is a SubmissionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	se, ok := AsSubmissionError(err)
	return ok && se.Kind == kind
}

// UniqueViolation is returned by stores when a participant insert collides
// with a committed row. Field names the contact column, "email" or "telegram".
type UniqueViolation struct {
	Field string
	Err   error
}

func (e *UniqueViolation) Error() string {
	return "unique violation on " + e.Field
}

func (e *UniqueViolation) Unwrap() error { return e.Err }
