package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"int20h/internal/platform/metrics"
	"int20h/internal/platform/middleware"
	"int20h/internal/registration/models"
	dErrors "int20h/pkg/domain-errors"
	"int20h/pkg/platform/httputil"
)

// Lister is the read side used by the handler.
type Lister interface {
	Categories(ctx context.Context) ([]models.Category, error)
	Universities(ctx context.Context) ([]models.University, error)
	Skills() []string
}

type Handler struct {
	logger  *slog.Logger
	service Lister
	metrics *metrics.Metrics
}

func NewHandler(service Lister, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		metrics: m,
	}
}

// Register adds the listing routes as a group so several modules can share
// the root router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(catalogRouter chi.Router) {
		catalogRouter.Use(middleware.Recovery(h.logger))
		catalogRouter.Use(middleware.RequestID)
		catalogRouter.Use(middleware.Logger(h.logger))
		catalogRouter.Use(middleware.Timeout(10 * time.Second))
		catalogRouter.Use(middleware.LatencyMiddleware(h.metrics))

		catalogRouter.Get("/categories/", h.HandleCategories)
		catalogRouter.Get("/unis/", h.HandleUniversities)
		catalogRouter.Get("/skills/", h.HandleSkills)
	})
}

func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.service.Categories(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list categories",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list categories"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (h *Handler) HandleUniversities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	universities, err := h.service.Universities(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list universities",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list universities"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"universities": universities})
}

func (h *Handler) HandleSkills(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.Skills())
}
