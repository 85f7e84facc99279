// Package service orchestrates a registration submission: validation,
// reference checks, then one transaction covering duplicate checks, team
// resolution, the participant insert and the outbox event.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"int20h/internal/registration/guard"
	"int20h/internal/registration/metrics"
	"int20h/internal/registration/models"
	"int20h/internal/registration/reference"
	"int20h/internal/registration/team"
	"int20h/internal/registration/validation"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/platform/sentinel"
	"int20h/pkg/requestcontext"
)

var tracer = otel.Tracer("int20h.registration.service")

const (
	MessageSubmitted   = "Form submitted successfully"
	MessageTeamCreated = "You have successfully created the team"
	MessageTeamJoined  = "You have successfully joined the team"
)

// Validator normalizes a raw submission or rejects it with FieldValidation.
type Validator interface {
	Validate(sub models.Submission) (*models.Registration, error)
}

type Service struct {
	tx        StoreTx
	validator Validator
	resolver  *reference.Resolver
	engine    *team.Engine
	guard     *guard.Guard
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithValidator(v Validator) Option {
	return func(s *Service) { s.validator = v }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithGuard replaces the default duplicate guard, e.g. to disable the pre-check.
func WithGuard(g *guard.Guard) Option {
	return func(s *Service) { s.guard = g }
}

func New(tx StoreTx, refs ReferenceStore, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("store tx is required")
	}
	if refs == nil {
		return nil, errors.New("reference store is required")
	}
	s := &Service{
		tx:       tx,
		resolver: reference.NewResolver(refs),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = validation.New()
	}
	if s.guard == nil {
		s.guard = guard.New(guard.WithMetrics(s.metrics))
	}
	s.engine = team.NewEngine(team.WithLogger(s.logger), team.WithMetrics(s.metrics))
	return s, nil
}

// Submit registers one participant. Rejections are *models.SubmissionError;
// any other error is an internal fault coded with pkg/domain-errors.
func (s *Service) Submit(ctx context.Context, sub models.Submission) (*models.Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "registration.Submit")
	defer span.End()

	result, err := s.submit(ctx, sub)
	s.metrics.ObserveSubmission(resultLabel(err), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("participant_id", result.Participant.ID),
		attribute.String("team_outcome", string(result.Outcome)),
	)
	span.SetStatus(codes.Ok, "")
	s.metrics.IncrementTeamOutcome(string(result.Outcome))
	s.logger.InfoContext(ctx, "participant registered",
		"participant_id", result.Participant.ID,
		"category_id", result.Participant.CategoryID,
		"team_outcome", result.Outcome,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

func (s *Service) submit(ctx context.Context, sub models.Submission) (*models.Result, error) {
	reg, err := s.validator.Validate(sub)
	if err != nil {
		s.logger.WarnContext(ctx, "submission rejected by validation",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, s.translate(ctx, err)
	}

	if err := s.resolver.Resolve(ctx, reg); err != nil {
		return nil, s.translate(ctx, err)
	}

	var result *models.Result
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		r, err := s.register(ctx, store, reg)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, s.translate(ctx, err)
	}
	return result, nil
}

// register runs inside the transaction. Any error rolls everything back.
func (s *Service) register(ctx context.Context, store Store, reg *models.Registration) (*models.Result, error) {
	now := requestcontext.Now(ctx)

	if err := s.guard.PreCheck(ctx, store, reg); err != nil {
		return nil, err
	}

	res, err := s.engine.Resolve(ctx, store, reg, now)
	if err != nil {
		return nil, err
	}

	p := models.NewParticipant(reg, now)
	p.TeamID = res.TeamID()
	p.TeamLeader = res.Leader()

	participant, err := s.guard.Insert(ctx, store, p)
	if err != nil {
		return nil, err
	}

	message := MessageSubmitted
	switch res.Outcome {
	case models.TeamOutcomeCreated:
		if err := store.AssignTeamLeader(ctx, res.Team.ID, participant.ID); err != nil {
			return nil, fmt.Errorf("assigning team leader: %w", err)
		}
		leaderID := participant.ID
		res.Team.LeaderID = &leaderID
		message = MessageTeamCreated
	case models.TeamOutcomeJoined:
		message = MessageTeamJoined
	}

	if err := s.appendCompleted(ctx, store, participant, res, now); err != nil {
		return nil, err
	}

	return &models.Result{
		Participant: participant,
		Team:        res.Team,
		Outcome:     res.Outcome,
		Message:     message,
	}, nil
}

func (s *Service) appendCompleted(ctx context.Context, store Store, p *models.Participant, res team.Resolution, now time.Time) error {
	payload, err := json.Marshal(models.RegistrationCompleted{
		ParticipantID: p.ID,
		CategoryID:    p.CategoryID,
		TeamID:        res.TeamID(),
		TeamOutcome:   res.Outcome,
		RequestID:     requestcontext.RequestID(ctx),
		OccurredAt:    now,
	})
	if err != nil {
		return fmt.Errorf("encoding outbox payload: %w", err)
	}
	entry := &models.OutboxEntry{
		ID:            uuid.New(),
		AggregateType: "participant",
		AggregateID:   strconv.FormatInt(p.ID, 10),
		EventType:     models.EventRegistrationCompleted,
		Payload:       payload,
		CreatedAt:     now,
	}
	if err := store.AppendOutbox(ctx, entry); err != nil {
		return fmt.Errorf("appending outbox entry: %w", err)
	}
	return nil
}

// translate keeps business rejections as they are, turns storage timeouts and
// contention into Transient, and codes everything else as internal.
func (s *Service) translate(ctx context.Context, err error) error {
	if se, ok := models.AsSubmissionError(err); ok {
		if se.Kind != models.KindFieldValidation {
			s.logger.WarnContext(ctx, "submission rejected",
				"kind", se.Kind,
				"field", se.Field,
				"reason", se.Reason,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return se
	}
	if isTransient(err) {
		s.logger.WarnContext(ctx, "submission failed transiently",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return models.NewTransient(err)
	}
	s.logger.ErrorContext(ctx, "submission failed",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register participant")
}

func isTransient(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		dErrors.HasCode(err, dErrors.CodeTimeout)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if se, ok := models.AsSubmissionError(err); ok {
		return string(se.Kind)
	}
	return "internal"
}
