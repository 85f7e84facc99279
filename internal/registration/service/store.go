package service

import (
	"context"

	"int20h/internal/registration/guard"
	"int20h/internal/registration/models"
	"int20h/internal/registration/reference"
	"int20h/internal/registration/team"
)

// Store is the per-transaction view of registration storage. Every call made
// through it inside RunInTx belongs to the same transaction.
type Store interface {
	team.Store
	guard.Store
	AssignTeamLeader(ctx context.Context, teamID, participantID int64) error
	AppendOutbox(ctx context.Context, entry *models.OutboxEntry) error
}

// ReferenceStore is the read-only lookup of categories and universities.
type ReferenceStore interface {
	reference.Lookup
}

// StoreTx provides the transactional boundary for a submission. fn's error
// rolls the transaction back and is returned unchanged. Implementations
// report timeouts, serialization failures and deadlocks wrapped in
// sentinel.ErrUnavailable.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
