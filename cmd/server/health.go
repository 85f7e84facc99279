package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"int20h/pkg/platform/httputil"
)

// healthCheck reports one dependency.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthHandler runs every check with a short deadline. Any failure turns
// the response into a 503.
func healthHandler(logger *slog.Logger, checks ...healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", c.name, "error", err)
				resp.Checks[c.name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
