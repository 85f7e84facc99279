// Package models holds the registration domain types shared by the validator,
// the team engine, the duplicate guard and the stores.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipationFormat is how a participant attends the event.
type ParticipationFormat string

const (
	FormatOnline  ParticipationFormat = "online"
	FormatOffline ParticipationFormat = "offline"
)

// StudyYear is the participant's year of study. 5 and 6 are master's years,
// 7 means graduated.
type StudyYear int

const (
	StudyYear1 StudyYear = iota + 1
	StudyYear2
	StudyYear3
	StudyYear4
	StudyYearMaster1
	StudyYearMaster2
	StudyYearGraduated
)

func (y StudyYear) Valid() bool {
	return y >= StudyYear1 && y <= StudyYearGraduated
}

func (y StudyYear) String() string {
	switch {
	case y >= StudyYear1 && y <= StudyYear4:
		return []string{"1st year", "2nd year", "3rd year", "4th year"}[y-1]
	case y == StudyYearMaster1:
		return "1st master's year"
	case y == StudyYearMaster2:
		return "2nd master's year"
	case y == StudyYearGraduated:
		return "graduated"
	default:
		return "unknown"
	}
}

// Submission is the registration form as received, before validation.
// Required booleans are pointers so "missing" differs from "false".
type Submission struct {
	FullName            string   `json:"full_name" validate:"min=2,max=100"`
	Email               string   `json:"email" validate:"required,max=100,email"`
	Telegram            string   `json:"telegram" validate:"min=1,max=100"`
	Phone               string   `json:"phone" validate:"required,max=100,phone"`
	IsStudent           *bool    `json:"is_student" validate:"required"`
	UniversityID        *int64   `json:"university_id" validate:"omitempty,gt=0"`
	StudyYear           *int     `json:"study_year" validate:"omitempty,min=1,max=7"`
	CategoryID          int64    `json:"category_id" validate:"required,gt=0"`
	Skills              []string `json:"skills" validate:"required,dive,max=100"`
	Format              string   `json:"format" validate:"required,oneof=online offline"`
	HasTeam             *bool    `json:"has_team" validate:"required"`
	TeamLeader          *bool    `json:"team_leader" validate:"required"`
	TeamName            string   `json:"team_name" validate:"max=100"`
	WantsJob            *bool    `json:"wants_job" validate:"required"`
	JobDescription      string   `json:"job_description" validate:"max=2000"`
	CV                  string   `json:"cv" validate:"max=100"`
	LinkedIn            string   `json:"linkedin" validate:"max=100"`
	WorkConsent         *bool    `json:"work_consent" validate:"required"`
	Source              string   `json:"source" validate:"min=1,max=100"`
	OtherSource         *string  `json:"otherSource" validate:"omitempty,max=100"`
	Comment             *string  `json:"comment" validate:"omitempty,max=2000"`
	PersonalDataConsent *bool    `json:"personal_data_consent" validate:"required,accepted"`
}

// Registration is a validated, normalized submission.
type Registration struct {
	FullName            string
	Email               string
	Telegram            string
	Phone               string
	IsStudent           bool
	UniversityID        *int64
	StudyYear           *StudyYear
	CategoryID          int64
	Skills              []string
	Format              ParticipationFormat
	HasTeam             bool
	TeamLeader          bool
	TeamName            string
	WantsJob            bool
	JobDescription      string
	CV                  string
	LinkedIn            string
	WorkConsent         bool
	Source              string
	OtherSource         string
	Comment             string
	PersonalDataConsent bool
}

// Participant is a persisted registration. Rows are immutable once committed.
type Participant struct {
	ID                  int64
	FullName            string
	Email               string
	Telegram            string
	Phone               string
	IsStudent           bool
	StudyYear           *StudyYear
	UniversityID        *int64
	CategoryID          int64
	Format              ParticipationFormat
	TeamLeader          bool
	TeamID              *int64
	WantsJob            bool
	JobDescription      string
	CVURL               string
	LinkedIn            string
	WorkConsent         bool
	Source              string
	Comment             string
	PersonalDataConsent bool
	Skills              []string
	CreatedAt           time.Time
}

// NewParticipant builds the row to insert for a registration. Team fields
// are filled in by the team engine.
func NewParticipant(reg *Registration, now time.Time) *Participant {
	return &Participant{
		FullName:            reg.FullName,
		Email:               reg.Email,
		Telegram:            reg.Telegram,
		Phone:               reg.Phone,
		IsStudent:           reg.IsStudent,
		StudyYear:           reg.StudyYear,
		UniversityID:        reg.UniversityID,
		CategoryID:          reg.CategoryID,
		Format:              reg.Format,
		WantsJob:            reg.WantsJob,
		JobDescription:      reg.JobDescription,
		CVURL:               reg.CV,
		LinkedIn:            reg.LinkedIn,
		WorkConsent:         reg.WorkConsent,
		Source:              reg.Source,
		Comment:             reg.Comment,
		PersonalDataConsent: reg.PersonalDataConsent,
		Skills:              append([]string(nil), reg.Skills...),
		CreatedAt:           now,
	}
}

// Team is unique per (Name, CategoryID). LeaderID stays nil until the
// creating participant's row exists.
type Team struct {
	ID         int64
	Name       string
	CategoryID int64
	LeaderID   *int64
	CreatedAt  time.Time
}

// Category is read-only reference data.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// University is read-only reference data.
type University struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	City *string `json:"city"`
}

// TeamOutcome is the terminal state of team resolution for one submission.
type TeamOutcome string

const (
	TeamOutcomeNone    TeamOutcome = "no_team_requested"
	TeamOutcomeCreated TeamOutcome = "created_as_leader"
	TeamOutcomeJoined  TeamOutcome = "joined_existing"
)

// Result is what a successful submission returns.
type Result struct {
	Participant *Participant
	Team        *Team
	Outcome     TeamOutcome
	Message     string
}

// OutboxEntry is an event written in the registration transaction and
// relayed to the message broker afterwards.
type OutboxEntry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// EventRegistrationCompleted is the outbox event type for a committed submission.
const EventRegistrationCompleted = "registration.completed"

// RegistrationCompleted is the payload of EventRegistrationCompleted.
type RegistrationCompleted struct {
	ParticipantID int64       `json:"participant_id"`
	CategoryID    int64       `json:"category_id"`
	TeamID        *int64      `json:"team_id,omitempty"`
	TeamOutcome   TeamOutcome `json:"team_outcome"`
	RequestID     string      `json:"request_id,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}
