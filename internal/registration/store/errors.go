package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"int20h/internal/registration/models"
	"int20h/pkg/platform/sentinel"
)

// SQLSTATE codes the store interprets.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// Constraint names from the migrations. Contact violations map to the
// submitted field they protect.
const (
	constraintTeamName          = "uq_teams_team_name_category"
	constraintParticipantEmail  = "uq_participants_email"
	constraintParticipantTelegr = "uq_participants_telegram"
)

var contactConstraints = map[string]string{
	constraintParticipantEmail:  "email",
	constraintParticipantTelegr: "telegram",
}

// translateError wraps err with the sentinel matching its cause, keeping op
// as context.
func translateError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
		case pgUniqueViolation:
			if field, ok := contactConstraints[pgErr.ConstraintName]; ok {
				return &models.UniqueViolation{Field: field, Err: fmt.Errorf("%s: %w: %w", op, sentinel.ErrAlreadyUsed, err)}
			}
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrAlreadyUsed, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
