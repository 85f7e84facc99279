package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"int20h/internal/ratelimit"
	"int20h/internal/registration/handler/mocks"
	"int20h/internal/registration/models"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/requestcontext"
	"int20h/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

type FormHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  http.Handler
}

func TestFormHandlerSuite(t *testing.T) {
	suite.Run(t, new(FormHandlerSuite))
}

func (s *FormHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(s.service, logger, nil).Register(r)
	s.router = r
}

func validBody() map[string]any {
	return map[string]any{
		"full_name":             "Olena Petrenko",
		"email":                 "olena@example.com",
		"telegram":              "@olena",
		"phone":                 "+380501234567",
		"is_student":            false,
		"category_id":           1,
		"skills":                []string{"Go"},
		"format":                "online",
		"has_team":              false,
		"team_leader":           false,
		"wants_job":             false,
		"work_consent":          false,
		"source":                "telegram",
		"personal_data_consent": true,
	}
}

func (s *FormHandlerSuite) post(body any) *http.Request {
	return testutil.NewJSONRequest(s.T(), http.MethodPost, "/form/", body)
}

func (s *FormHandlerSuite) rejection(err error) (int, RejectionResponse, http.Header) {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, err)
	rr := testutil.DoRequest(s.router, s.post(validBody()))
	resp := testutil.UnmarshalResponse[RejectionResponse](s.T(), rr)
	return rr.Code, *resp, rr.Header()
}

// =============================================================================
// Success
// =============================================================================

func (s *FormHandlerSuite) TestSubmitDecodesAndResponds() {
	teamID := int64(9)
	s.service.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, sub models.Submission) (*models.Result, error) {
			s.Equal("olena@example.com", sub.Email)
			s.Require().NotNil(sub.PersonalDataConsent)
			s.True(*sub.PersonalDataConsent)
			s.NotEmpty(requestcontext.RequestID(ctx))
			s.False(requestcontext.Now(ctx).IsZero())
			return &models.Result{
				Participant: &models.Participant{ID: 41},
				Team:        &models.Team{ID: teamID},
				Outcome:     models.TeamOutcomeJoined,
				Message:     "joined",
			}, nil
		})

	rr := testutil.DoRequest(s.router, s.post(validBody()))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[SubmitResponse](s.T(), rr)
	s.Equal(int64(41), resp.ParticipantID)
	s.Equal(&teamID, resp.TeamID)
	s.Equal(models.TeamOutcomeJoined, resp.TeamOutcome)
	s.Equal("joined", resp.Message)
}

func (s *FormHandlerSuite) TestSubmitWithoutTeamOmitsTeamID() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&models.Result{
		Participant: &models.Participant{ID: 1},
		Outcome:     models.TeamOutcomeNone,
		Message:     "ok",
	}, nil)

	rr := testutil.DoRequest(s.router, s.post(validBody()))

	testutil.AssertStatusOK(s.T(), rr)
	s.NotContains(rr.Body.String(), "team_id")
}

// =============================================================================
// Rejection mapping
// =============================================================================

func (s *FormHandlerSuite) TestFieldValidationIs422() {
	code, resp, _ := s.rejection(models.NewFieldValidation([]models.FieldError{
		{Field: "cv", Message: "cv is required"},
		{Field: "work_consent", Message: "consent required"},
	}))
	s.Equal(http.StatusUnprocessableEntity, code)
	s.Equal("validation_error", resp.Error)
	s.Require().Len(resp.Errors, 2)
	s.Equal("cv", resp.Errors[0].Field)
}

func (s *FormHandlerSuite) TestReferenceNotFoundIs400() {
	code, resp, _ := s.rejection(models.NewReferenceNotFound("category_id"))
	s.Equal(http.StatusBadRequest, code)
	s.Equal("category_id", resp.Field)
	s.Equal(models.KindReferenceNotFound, resp.Kind)
}

func (s *FormHandlerSuite) TestDuplicateIs409() {
	code, resp, _ := s.rejection(models.NewDuplicateRegistration("telegram"))
	s.Equal(http.StatusConflict, code)
	s.Equal("telegram", resp.Field)
	s.False(resp.Retryable)
}

func (s *FormHandlerSuite) TestTeamConflicts() {
	code, resp, _ := s.rejection(models.NewTeamConflict(models.TeamNotFound))
	s.Equal(http.StatusNotFound, code)
	s.Equal(string(models.TeamNotFound), resp.Reason)

	code, _, _ = s.rejection(models.NewTeamConflict(models.TeamCreationConflict))
	s.Equal(http.StatusConflict, code)
}

func (s *FormHandlerSuite) TestTransientIs503WithRetryAfter() {
	code, resp, header := s.rejection(models.NewTransient(context.DeadlineExceeded))
	s.Equal(http.StatusServiceUnavailable, code)
	s.True(resp.Retryable)
	s.Equal("2", header.Get("Retry-After"))
}

func (s *FormHandlerSuite) TestInternalErrorHidesDetails() {
	s.service.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.Wrap(errors.New("pq: connection refused"), dErrors.CodeInternal, "failed to register participant"))

	rr := testutil.DoRequest(s.router, s.post(validBody()))

	testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
}

// =============================================================================
// Decoding
// =============================================================================

func (s *FormHandlerSuite) TestMalformedBodies() {
	cases := []struct {
		name string
		body string
	}{
		{"syntax error", `{"email": `},
		{"empty body", ``},
		{"trailing object", `{} {}`},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/form/", tc.body)
			rr := testutil.DoRequest(s.router, req)
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
		})
	}
}

func (s *FormHandlerSuite) TestWrongJSONTypeIsFieldError() {
	body := validBody()
	body["category_id"] = "web"

	rr := testutil.DoRequest(s.router, s.post(body))

	s.Equal(http.StatusUnprocessableEntity, rr.Code)
	resp := testutil.UnmarshalResponse[RejectionResponse](s.T(), rr)
	s.Require().Len(resp.Errors, 1)
	s.Equal("category_id", resp.Errors[0].Field)
	s.Contains(resp.Errors[0].Message, "number")
}

func (s *FormHandlerSuite) TestNonJSONContentTypeRejected() {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/form/", "a=b")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := testutil.DoRequest(s.router, req)
	s.Equal(http.StatusUnsupportedMediaType, rr.Code)
}

func (s *FormHandlerSuite) TestOversizedBodyRejected() {
	body := `{"comment": "` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/form/", body)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestSubmitRateLimited(t *testing.T) {
	ctrl := gomock.NewController(t)
	service := mocks.NewMockService(ctrl)
	service.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&models.Result{
		Participant: &models.Participant{ID: 1},
		Outcome:     models.TeamOutcomeNone,
	}, nil).Times(1)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), 1, time.Minute, ratelimit.WithLogger(logger))
	r := chi.NewRouter()
	New(service, logger, nil, WithRateLimit(limiter.Submissions)).Register(r)

	send := func() int {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/form/", validBody())
		req.RemoteAddr = "203.0.113.7:5555"
		return testutil.DoRequest(r, req).Code
	}

	require.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
