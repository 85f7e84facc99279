// Package team decides, inside the submission transaction, whether a
// participant creates a team, joins one, or is rejected. The team table's
// unique (team_name, category_id) constraint is the only arbiter between
// concurrent leaders.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"int20h/internal/registration/metrics"
	"int20h/internal/registration/models"
	"int20h/pkg/platform/sentinel"
)

var tracer = otel.Tracer("int20h.registration.team")

// Store is the transactional team access the engine needs.
// FindTeam returns sentinel.ErrNotFound when no team is visible and
// CreateTeam returns sentinel.ErrAlreadyUsed when the unique constraint
// rejects the insert.
type Store interface {
	FindTeam(ctx context.Context, name string, categoryID int64) (*models.Team, error)
	CreateTeam(ctx context.Context, team *models.Team) (*models.Team, error)
}

// Resolution is the engine's terminal state for one submission.
type Resolution struct {
	Outcome models.TeamOutcome
	Team    *models.Team
}

// TeamID is nil when no team was requested.
func (r Resolution) TeamID() *int64 {
	if r.Team == nil {
		return nil
	}
	id := r.Team.ID
	return &id
}

// Leader reports whether the participant must be stored as team leader.
func (r Resolution) Leader() bool {
	return r.Outcome == models.TeamOutcomeCreated
}

type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs team resolution for reg using store, which must be bound to
// the caller's transaction. Business rejections are *models.SubmissionError
// of kind TeamConflict; any other error is a store failure.
func (e *Engine) Resolve(ctx context.Context, store Store, reg *models.Registration, now time.Time) (Resolution, error) {
	if !reg.HasTeam {
		return Resolution{Outcome: models.TeamOutcomeNone}, nil
	}

	ctx, span := tracer.Start(ctx, "team.Resolve",
		trace.WithAttributes(
			attribute.Int64("category_id", reg.CategoryID),
			attribute.Bool("team_leader", reg.TeamLeader),
		),
	)
	defer span.End()

	res, err := e.resolve(ctx, store, reg, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Resolution{}, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, store Store, reg *models.Registration, now time.Time) (Resolution, error) {
	existing, err := findTeam(ctx, store, reg.TeamName, reg.CategoryID)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		return Resolution{Outcome: models.TeamOutcomeJoined, Team: existing}, nil
	}

	if !reg.TeamLeader {
		e.logger.WarnContext(ctx, "team not found for non-leader",
			"team_name", reg.TeamName,
			"category_id", reg.CategoryID,
		)
		return Resolution{}, models.NewTeamConflict(models.TeamNotFound)
	}

	created, err := store.CreateTeam(ctx, &models.Team{
		Name:       reg.TeamName,
		CategoryID: reg.CategoryID,
		CreatedAt:  now,
	})
	if err == nil {
		return Resolution{Outcome: models.TeamOutcomeCreated, Team: created}, nil
	}
	if !errors.Is(err, sentinel.ErrAlreadyUsed) {
		return Resolution{}, fmt.Errorf("creating team: %w", err)
	}

	// Another leader committed the same (name, category) first.
	e.metrics.IncrementTeamRaceRetry()
	winner, err := findTeam(ctx, store, reg.TeamName, reg.CategoryID)
	if err != nil {
		return Resolution{}, err
	}
	if winner == nil {
		e.logger.WarnContext(ctx, "team creation lost race but winner not visible",
			"team_name", reg.TeamName,
			"category_id", reg.CategoryID,
		)
		return Resolution{}, models.NewTeamConflict(models.TeamCreationConflict)
	}
	e.logger.InfoContext(ctx, "team creation lost race, joining winner",
		"team_id", winner.ID,
		"category_id", reg.CategoryID,
	)
	return Resolution{Outcome: models.TeamOutcomeJoined, Team: winner}, nil
}

// findTeam maps sentinel.ErrNotFound to a nil team.
func findTeam(ctx context.Context, store Store, name string, categoryID int64) (*models.Team, error) {
	t, err := store.FindTeam(ctx, name, categoryID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding team: %w", err)
	}
	return t, nil
}
