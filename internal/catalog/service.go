// Package catalog serves the reference listings used to fill the
// registration form.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"int20h/internal/registration/models"
)

// Source reads reference data from the database.
type Source interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListUniversities(ctx context.Context) ([]models.University, error)
}

const (
	categoriesKey   = "categories"
	universitiesKey = "universities"
	defaultTTL      = 10 * time.Minute
)

type Service struct {
	source Source
	skills *Skills
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Service)

// WithCache enables read-through caching of listings.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(source Source, skills *Skills, opts ...Option) *Service {
	s := &Service{
		source: source,
		skills: skills,
		ttl:    defaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Categories returns every category ordered by name.
func (s *Service) Categories(ctx context.Context) ([]models.Category, error) {
	return readThrough(ctx, s, categoriesKey, s.source.ListCategories)
}

// Universities returns every university ordered by name.
func (s *Service) Universities(ctx context.Context) ([]models.University, error) {
	return readThrough(ctx, s, universitiesKey, s.source.ListUniversities)
}

func (s *Service) Skills() []string {
	return s.skills.Names()
}

// readThrough serves key from the cache, falling back to load. Cache
// failures are logged and never fail the request.
func readThrough[T any](ctx context.Context, s *Service, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "catalog cache read failed", "key", key, "error", err)
		case ok:
			var items []T
			if err := json.Unmarshal(raw, &items); err == nil {
				return items, nil
			}
			s.logger.WarnContext(ctx, "catalog cache entry unreadable", "key", key)
		}
	}

	items, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}

	if s.cache != nil {
		raw, err := json.Marshal(items)
		if err == nil {
			err = s.cache.Set(ctx, key, raw, s.ttl)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "catalog cache write failed", "key", key, "error", err)
		}
	}
	return items, nil
}
