// Package guard turns contact uniqueness facts from the store into
// DuplicateRegistration rejections.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"int20h/internal/registration/metrics"
	"int20h/internal/registration/models"
	"int20h/pkg/platform/sentinel"
)

// Store is the transactional participant access the guard needs.
// FindParticipantByContact returns sentinel.ErrNotFound when neither contact
// is taken. InsertParticipant returns *models.UniqueViolation on a contact
// collision with a committed row.
type Store interface {
	FindParticipantByContact(ctx context.Context, email, telegram string) (*models.Participant, error)
	InsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error)
}

type Guard struct {
	precheck bool
	metrics  *metrics.Metrics
}

type Option func(*Guard)

// WithPreCheck toggles the read-before-insert fast path. The insert stays
// authoritative either way.
func WithPreCheck(enabled bool) Option {
	return func(g *Guard) { g.precheck = enabled }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

func New(opts ...Option) *Guard {
	g := &Guard{precheck: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PreCheck rejects a registration whose email or telegram is already visible.
// Email is reported before telegram. It is a no-op when disabled.
func (g *Guard) PreCheck(ctx context.Context, store Store, reg *models.Registration) error {
	if !g.precheck {
		return nil
	}
	existing, err := store.FindParticipantByContact(ctx, reg.Email, reg.Telegram)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking existing participant: %w", err)
	}
	if strings.EqualFold(existing.Email, reg.Email) {
		return g.duplicate("email")
	}
	return g.duplicate("telegram")
}

// Insert persists p and translates a contact unique violation into
// DuplicateRegistration.
func (g *Guard) Insert(ctx context.Context, store Store, p *models.Participant) (*models.Participant, error) {
	inserted, err := store.InsertParticipant(ctx, p)
	if err == nil {
		return inserted, nil
	}
	var uv *models.UniqueViolation
	if errors.As(err, &uv) {
		return nil, g.duplicate(uv.Field)
	}
	return nil, fmt.Errorf("inserting participant: %w", err)
}

func (g *Guard) duplicate(field string) error {
	g.metrics.IncrementDuplicate(field)
	return models.NewDuplicateRegistration(field)
}
