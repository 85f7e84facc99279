package ratelimit

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"int20h/pkg/platform/httputil"
	"int20h/pkg/requestcontext"
)

type Middleware struct {
	store    Store
	limit    int
	window   time.Duration
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a passthrough (local demos).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func New(store Store, limit int, window time.Duration, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		m.logger.Info("submission rate limiting disabled")
	}
	return m
}

// Submissions limits requests per client IP. The IP comes from the
// ClientMetadata middleware. Store errors fail open.
func (m *Middleware) Submissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)

		result, err := m.store.Allow(ctx, submissionKey(ip), m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check submission rate limit",
				"error", err,
				"ip_prefix", anonymizeIP(ip),
			)
			next.ServeHTTP(w, r)
			return
		}

		addHeaders(w, result)
		if !result.Allowed {
			m.logger.WarnContext(ctx, "submission rate limit exceeded",
				"ip_prefix", anonymizeIP(ip),
				"retry_after", result.RetryAfter,
			)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, &ExceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "Too many registration attempts from this IP address. Please try again later.",
				RetryAfter: result.RetryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// anonymizeIP keeps the /24 (IPv4) or /48 (IPv6) prefix for logs.
func anonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
