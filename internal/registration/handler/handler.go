package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"int20h/internal/platform/metrics"
	"int20h/internal/platform/middleware"
	"int20h/internal/registration/models"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/platform/httputil"
	"int20h/pkg/platform/middleware/metadata"
	"int20h/pkg/platform/middleware/requesttime"
)

const (
	maxBodyBytes      = 64 << 10
	retryAfterSeconds = 2
)

// Service registers participants.
type Service interface {
	Submit(ctx context.Context, sub models.Submission) (*models.Result, error)
}

type Handler struct {
	logger    *slog.Logger
	service   Service
	metrics   *metrics.Metrics
	rateLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithRateLimit guards POST /form/ with the given middleware.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.rateLimit = mw
	}
}

func New(service Service, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		logger:  logger,
		service: service,
		metrics: m,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(formRouter chi.Router) {
		formRouter.Use(middleware.Recovery(h.logger))
		formRouter.Use(middleware.RequestID)
		formRouter.Use(metadata.ClientMetadata)
		formRouter.Use(requesttime.Middleware)
		formRouter.Use(middleware.Logger(h.logger))
		formRouter.Use(middleware.Timeout(30 * time.Second))
		formRouter.Use(middleware.ContentTypeJSON)
		formRouter.Use(middleware.LatencyMiddleware(h.metrics))
		if h.rateLimit != nil {
			formRouter.Use(h.rateLimit)
		}

		formRouter.Post("/form/", h.HandleSubmit)
	})
}

// SubmitResponse is the success body.
type SubmitResponse struct {
	Message       string             `json:"message"`
	ParticipantID int64              `json:"participant_id"`
	TeamID        *int64             `json:"team_id,omitempty"`
	TeamOutcome   models.TeamOutcome `json:"team_outcome"`
}

// RejectionResponse is the body for business rejections.
type RejectionResponse struct {
	Error            string              `json:"error"`
	ErrorDescription string              `json:"error_description"`
	Kind             models.ErrorKind    `json:"kind"`
	Field            string              `json:"field,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	Errors           []models.FieldError `json:"errors,omitempty"`
	Retryable        bool                `json:"retryable"`
}

// HandleSubmit accepts a registration form.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var sub models.Submission
	if err := decode(w, r, &sub); err != nil {
		h.logger.WarnContext(ctx, "failed to decode submission",
			"error", err,
			"request_id", requestID,
		)
		var se *models.SubmissionError
		if errors.As(err, &se) {
			h.writeRejection(w, se)
			return
		}
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Submit(ctx, sub)
	if err != nil {
		if se, ok := models.AsSubmissionError(err); ok {
			h.writeRejection(w, se)
			return
		}
		h.logger.ErrorContext(ctx, "failed to register participant",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := SubmitResponse{
		Message:       result.Message,
		ParticipantID: result.Participant.ID,
		TeamOutcome:   result.Outcome,
	}
	if result.Team != nil {
		resp.TeamID = &result.Team.ID
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeRejection(w http.ResponseWriter, se *models.SubmissionError) {
	code := codeFor(se)
	resp := RejectionResponse{
		Error:            string(code),
		ErrorDescription: se.Message(),
		Kind:             se.Kind,
		Field:            se.Field,
		Reason:           string(se.Reason),
		Errors:           se.Fields,
		Retryable:        se.Retryable(),
	}
	if se.Retryable() {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	httputil.WriteJSON(w, httputil.StatusFor(code), resp)
}

func codeFor(se *models.SubmissionError) dErrors.Code {
	switch se.Kind {
	case models.KindFieldValidation:
		return dErrors.CodeValidation
	case models.KindReferenceNotFound:
		return dErrors.CodeBadRequest
	case models.KindDuplicateRegistration:
		return dErrors.CodeConflict
	case models.KindTeamConflict:
		if se.Reason == models.TeamNotFound {
			return dErrors.CodeNotFound
		}
		return dErrors.CodeConflict
	case models.KindTransient:
		return dErrors.CodeUnavailable
	default:
		return dErrors.CodeInternal
	}
}

// decode reads one JSON object. A value of the wrong JSON type is reported
// against its field like any other validation failure.
func decode(w http.ResponseWriter, r *http.Request, dst *models.Submission) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return models.NewFieldValidation([]models.FieldError{{
				Field:   typeErr.Field,
				Message: fmt.Sprintf("%s must be a %s", typeErr.Field, jsonKind(typeErr.Type.Kind().String())),
			}})
		case errors.As(err, &tooLarge):
			return dErrors.New(dErrors.CodeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			return dErrors.New(dErrors.CodeBadRequest, "request body is empty")
		default:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
		}
	}
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must contain a single JSON object")
	}
	return nil
}

func jsonKind(goKind string) string {
	switch goKind {
	case "int", "int64", "int32", "uint", "uint64", "float64":
		return "number"
	case "bool":
		return "boolean"
	case "slice":
		return "list"
	default:
		return goKind
	}
}
