package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"int20h/internal/registration/guard"
	"int20h/internal/registration/metrics"
	"int20h/internal/registration/models"
	"int20h/internal/registration/service"
	"int20h/internal/registration/store"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/platform/sentinel"
	"int20h/pkg/requestcontext"
)

// =============================================================================
// Submission Service Test Suite
// =============================================================================
// Runs the full submit workflow against the in-memory store, which blocks
// conflicting inserts the way PostgreSQL does, so the concurrent cases below
// exercise the same race paths as production.

type ServiceSuite struct {
	suite.Suite
	store   *store.MemoryStore
	metrics *metrics.Metrics
	service *service.Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.store.AddCategory(models.Category{ID: 1, Name: "Web"})
	s.store.AddCategory(models.Category{ID: 2, Name: "AI"})
	s.store.AddUniversity(models.University{ID: 1, Name: "KPI"})
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	var err error
	s.service, err = service.New(s.store, s.store, service.WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-1")
}

func ptr[T any](v T) *T { return &v }

func submission(n int) models.Submission {
	return models.Submission{
		FullName:            "Participant Number",
		Email:               fmt.Sprintf("p%d@example.com", n),
		Telegram:            fmt.Sprintf("@p%d", n),
		Phone:               "+380501234567",
		IsStudent:           ptr(false),
		CategoryID:          1,
		Skills:              []string{"Go"},
		Format:              "offline",
		HasTeam:             ptr(false),
		TeamLeader:          ptr(false),
		WantsJob:            ptr(false),
		WorkConsent:         ptr(false),
		Source:              "telegram",
		PersonalDataConsent: ptr(true),
	}
}

func withTeam(sub models.Submission, name string, leader bool) models.Submission {
	sub.HasTeam = ptr(true)
	sub.TeamName = name
	sub.TeamLeader = ptr(leader)
	return sub
}

func (s *ServiceSuite) requireKind(err error, kind models.ErrorKind) *models.SubmissionError {
	s.T().Helper()
	se, ok := models.AsSubmissionError(err)
	s.Require().True(ok, "expected SubmissionError, got %v", err)
	s.Require().Equal(kind, se.Kind)
	return se
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil tx returns error", func() {
		_, err := service.New(nil, s.store)
		s.ErrorContains(err, "store tx is required")
	})

	s.Run("nil reference store returns error", func() {
		_, err := service.New(s.store, nil)
		s.ErrorContains(err, "reference store is required")
	})
}

func (s *ServiceSuite) TestNoTeamRequested() {
	sub := submission(1)
	sub.TeamName = "Ignored"
	sub.TeamLeader = ptr(true)

	res, err := s.service.Submit(s.ctx, sub)
	s.Require().NoError(err)
	s.Equal(models.TeamOutcomeNone, res.Outcome)
	s.Equal(service.MessageSubmitted, res.Message)
	s.Nil(res.Team)
	s.Nil(res.Participant.TeamID)
	s.False(res.Participant.TeamLeader)
	s.Empty(s.store.Teams())
}

func (s *ServiceSuite) TestLeaderCreatesTeam() {
	res, err := s.service.Submit(s.ctx, withTeam(submission(1), "Falcons", true))
	s.Require().NoError(err)
	s.Equal(models.TeamOutcomeCreated, res.Outcome)
	s.Equal(service.MessageTeamCreated, res.Message)
	s.True(res.Participant.TeamLeader)

	teams := s.store.Teams()
	s.Require().Len(teams, 1)
	s.Require().NotNil(teams[0].LeaderID)
	s.Equal(res.Participant.ID, *teams[0].LeaderID)
	s.Equal(teams[0].ID, *res.Participant.TeamID)
}

func (s *ServiceSuite) TestMemberJoinsExistingTeam() {
	created, err := s.service.Submit(s.ctx, withTeam(submission(1), "Falcons", true))
	s.Require().NoError(err)

	s.Run("non-leader joins", func() {
		res, err := s.service.Submit(s.ctx, withTeam(submission(2), "Falcons", false))
		s.Require().NoError(err)
		s.Equal(models.TeamOutcomeJoined, res.Outcome)
		s.Equal(service.MessageTeamJoined, res.Message)
		s.Equal(created.Team.ID, *res.Participant.TeamID)
	})

	s.Run("second leader joins without leadership", func() {
		res, err := s.service.Submit(s.ctx, withTeam(submission(3), "Falcons", true))
		s.Require().NoError(err)
		s.Equal(models.TeamOutcomeJoined, res.Outcome)
		s.False(res.Participant.TeamLeader)
	})

	teams := s.store.Teams()
	s.Require().Len(teams, 1)
	s.Equal(created.Participant.ID, *teams[0].LeaderID)
}

func (s *ServiceSuite) TestNonLeaderUnknownTeam() {
	_, err := s.service.Submit(s.ctx, withTeam(submission(1), "Nobody", false))
	se := s.requireKind(err, models.KindTeamConflict)
	s.Equal(models.TeamNotFound, se.Reason)
	s.Empty(s.store.Participants())
	s.Empty(s.store.Teams())
}

func (s *ServiceSuite) TestSameTeamNameAcrossCategories() {
	first := withTeam(submission(1), "Falcons", true)
	second := withTeam(submission(2), "Falcons", true)
	second.CategoryID = 2

	r1, err := s.service.Submit(s.ctx, first)
	s.Require().NoError(err)
	r2, err := s.service.Submit(s.ctx, second)
	s.Require().NoError(err)

	s.Equal(models.TeamOutcomeCreated, r1.Outcome)
	s.Equal(models.TeamOutcomeCreated, r2.Outcome)
	s.NotEqual(r1.Team.ID, r2.Team.ID)
	s.Len(s.store.Teams(), 2)
}

func (s *ServiceSuite) TestDuplicateRegistration() {
	_, err := s.service.Submit(s.ctx, submission(1))
	s.Require().NoError(err)

	s.Run("email, case-insensitively", func() {
		dup := submission(2)
		dup.Email = "P1@Example.com"
		_, err := s.service.Submit(s.ctx, dup)
		se := s.requireKind(err, models.KindDuplicateRegistration)
		s.Equal("email", se.Field)
	})

	s.Run("telegram", func() {
		dup := submission(3)
		dup.Telegram = "@p1"
		_, err := s.service.Submit(s.ctx, dup)
		se := s.requireKind(err, models.KindDuplicateRegistration)
		s.Equal("telegram", se.Field)
	})

	s.Run("without the pre-check the insert still rejects", func() {
		svc, err := service.New(s.store, s.store, service.WithGuard(guard.New(guard.WithPreCheck(false))))
		s.Require().NoError(err)
		_, err = svc.Submit(s.ctx, submission(1))
		se := s.requireKind(err, models.KindDuplicateRegistration)
		s.Equal("email", se.Field)
	})

	s.Len(s.store.Participants(), 1)
}

func (s *ServiceSuite) TestDuplicateLeaderLeavesNoTeam() {
	_, err := s.service.Submit(s.ctx, submission(1))
	s.Require().NoError(err)

	dup := withTeam(submission(2), "Orphans", true)
	dup.Email = "p1@example.com"
	svc, err := service.New(s.store, s.store, service.WithGuard(guard.New(guard.WithPreCheck(false))))
	s.Require().NoError(err)

	_, err = svc.Submit(s.ctx, dup)
	s.requireKind(err, models.KindDuplicateRegistration)
	s.Empty(s.store.Teams(), "team insert must roll back with the participant")
}

func (s *ServiceSuite) TestRejectionsBeforeTransaction() {
	s.Run("field validation", func() {
		sub := submission(1)
		sub.WantsJob = ptr(true)
		_, err := s.service.Submit(s.ctx, sub)
		se := s.requireKind(err, models.KindFieldValidation)
		s.Equal("cv", se.Fields[0].Field)
		s.False(se.Retryable())
	})

	s.Run("unknown category", func() {
		sub := submission(1)
		sub.CategoryID = 99
		_, err := s.service.Submit(s.ctx, sub)
		se := s.requireKind(err, models.KindReferenceNotFound)
		s.Equal("category_id", se.Field)
	})

	s.Run("unknown university", func() {
		sub := submission(1)
		sub.IsStudent = ptr(true)
		sub.UniversityID = ptr(int64(42))
		sub.StudyYear = ptr(2)
		_, err := s.service.Submit(s.ctx, sub)
		se := s.requireKind(err, models.KindReferenceNotFound)
		s.Equal("university_id", se.Field)
	})

	s.Empty(s.store.Participants())
}

func (s *ServiceSuite) TestOutboxEventWrittenWithParticipant() {
	res, err := s.service.Submit(s.ctx, withTeam(submission(1), "Falcons", true))
	s.Require().NoError(err)

	entries, err := s.store.FetchUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.EventRegistrationCompleted, entries[0].EventType)

	var payload models.RegistrationCompleted
	s.Require().NoError(json.Unmarshal(entries[0].Payload, &payload))
	s.Equal(res.Participant.ID, payload.ParticipantID)
	s.Equal(res.Team.ID, *payload.TeamID)
	s.Equal(models.TeamOutcomeCreated, payload.TeamOutcome)
	s.Equal("req-1", payload.RequestID)
}

// TestConcurrentLeadersSameTeam verifies exactly one of N leaders racing for
// the same (team, category) creates it and the rest join.
func (s *ServiceSuite) TestConcurrentLeadersSameTeam() {
	const goroutines = 50

	var wg sync.WaitGroup
	var created, joined, failed atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := s.service.Submit(s.ctx, withTeam(submission(n), "Alpha", true))
			if err != nil {
				failed.Add(1)
				return
			}
			switch res.Outcome {
			case models.TeamOutcomeCreated:
				created.Add(1)
			case models.TeamOutcomeJoined:
				joined.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(0), failed.Load())
	s.Equal(int32(1), created.Load(), "exactly one leader creates the team")
	s.Equal(int32(goroutines-1), joined.Load(), "everyone else joins")

	teams := s.store.Teams()
	s.Require().Len(teams, 1)
	participants := s.store.Participants()
	s.Len(participants, goroutines)

	leaders := 0
	for _, p := range participants {
		s.Equal(teams[0].ID, *p.TeamID)
		if p.TeamLeader {
			leaders++
			s.Equal(p.ID, *teams[0].LeaderID)
		}
	}
	s.Equal(1, leaders)
	s.GreaterOrEqual(promtest.ToFloat64(s.metrics.TeamOutcomes.WithLabelValues(string(models.TeamOutcomeJoined))), float64(goroutines-1))
}

// TestConcurrentSameEmail verifies exactly one of N submissions sharing an
// email commits.
func (s *ServiceSuite) TestConcurrentSameEmail() {
	const goroutines = 50

	var wg sync.WaitGroup
	var ok, duplicate atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := submission(n)
			sub.Email = "same@example.com"
			_, err := s.service.Submit(s.ctx, sub)
			if err == nil {
				ok.Add(1)
				return
			}
			if se, isSub := models.AsSubmissionError(err); isSub && se.Kind == models.KindDuplicateRegistration && se.Field == "email" {
				duplicate.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(goroutines-1), duplicate.Load())
	s.Len(s.store.Participants(), 1)
}

// failingTx simulates a store whose transactions fail with err.
type failingTx struct{ err error }

func (f failingTx) RunInTx(context.Context, func(context.Context, service.Store) error) error {
	return f.err
}

func (s *ServiceSuite) TestStorageFailures() {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"serialization failure", fmt.Errorf("commit: %w", sentinel.ErrUnavailable), true},
		{"deadline", fmt.Errorf("insert: %w", context.DeadlineExceeded), true},
		{"cancelled before start", dErrors.Wrap(context.Canceled, dErrors.CodeTimeout, "transaction aborted"), true},
		{"unexpected", errors.New("syntax error at or near"), false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			svc, err := service.New(failingTx{err: tc.err}, s.store)
			s.Require().NoError(err)

			_, err = svc.Submit(s.ctx, submission(1))
			if tc.transient {
				se := s.requireKind(err, models.KindTransient)
				s.True(se.Retryable())
				return
			}
			_, isSub := models.AsSubmissionError(err)
			s.False(isSub)
			s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		})
	}
}

func (s *ServiceSuite) TestTransactionTimeoutIsTransient() {
	slow := store.NewMemory().WithTimeout(20 * time.Millisecond)
	slow.AddCategory(models.Category{ID: 1, Name: "Web"})
	svc, err := service.New(slow, slow)
	s.Require().NoError(err)

	// hold the email in an open transaction so the submission has to wait
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = slow.RunInTx(context.Background(), func(ctx context.Context, st service.Store) error {
			p := models.NewParticipant(&models.Registration{Email: "p1@example.com", Telegram: "@holder"}, time.Now())
			_, _ = st.InsertParticipant(ctx, p)
			close(started)
			<-hold
			return errors.New("release")
		})
	}()
	<-started
	defer close(hold)

	// a request deadline longer than the transaction timeout must not extend it
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	start := time.Now()
	_, err = svc.Submit(ctx, submission(1))
	se := s.requireKind(err, models.KindTransient)
	s.True(se.Retryable())
	s.Less(time.Since(start), time.Second)
}
