package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"int20h/internal/registration/models"
)

type fakeSource struct {
	mu           sync.Mutex
	categories   []models.Category
	universities []models.University
	calls        int
	err          error
}

func (f *fakeSource) ListCategories(context.Context) ([]models.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.categories, f.err
}

func (f *fakeSource) ListUniversities(context.Context) ([]models.University, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.universities, f.err
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = value
	c.lastTTL = ttl
	return nil
}

type ServiceSuite struct {
	suite.Suite
	source *fakeSource
	cache  *mapCache
	skills *Skills
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	kyiv := "Kyiv"
	s.source = &fakeSource{
		categories:   []models.Category{{ID: 2, Name: "AI"}, {ID: 1, Name: "Web"}},
		universities: []models.University{{ID: 1, Name: "KPI", City: &kyiv}},
	}
	s.cache = newMapCache()
	skills, err := ParseSkills([]byte(`["Go"]`))
	s.Require().NoError(err)
	s.skills = skills
}

func (s *ServiceSuite) TestWithoutCacheAlwaysLoads() {
	svc := NewService(s.source, s.skills)
	for range 2 {
		cats, err := svc.Categories(context.Background())
		s.Require().NoError(err)
		s.Len(cats, 2)
	}
	s.Equal(2, s.source.calls)
}

func (s *ServiceSuite) TestReadThrough() {
	svc := NewService(s.source, s.skills, WithCache(s.cache, time.Minute))
	ctx := context.Background()

	first, err := svc.Universities(ctx)
	s.Require().NoError(err)
	second, err := svc.Universities(ctx)
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1, s.source.calls)
	s.Equal(time.Minute, s.cache.lastTTL)
	s.Equal("Kyiv", *second[0].City)
}

func (s *ServiceSuite) TestCacheFailuresFallBackToSource() {
	s.cache.getErr = errors.New("redis down")
	s.cache.setErr = errors.New("redis down")
	svc := NewService(s.source, s.skills, WithCache(s.cache, 0))

	cats, err := svc.Categories(context.Background())
	s.Require().NoError(err)
	s.Len(cats, 2)
}

func (s *ServiceSuite) TestUnreadableEntryIsReloaded() {
	s.cache.entries[categoriesKey] = []byte("not json")
	svc := NewService(s.source, s.skills, WithCache(s.cache, 0))

	cats, err := svc.Categories(context.Background())
	s.Require().NoError(err)
	s.Len(cats, 2)
	s.Equal(1, s.source.calls)
}

func (s *ServiceSuite) TestEmptyListingIsNotNil() {
	s.source.categories = nil
	svc := NewService(s.source, s.skills, WithCache(s.cache, 0))

	cats, err := svc.Categories(context.Background())
	s.Require().NoError(err)
	s.NotNil(cats)
	s.Empty(cats)
	s.JSONEq(`[]`, string(s.cache.entries[categoriesKey]))
}

func (s *ServiceSuite) TestSourceErrorIsReturned() {
	s.source.err = errors.New("db down")
	svc := NewService(s.source, s.skills, WithCache(s.cache, 0))

	_, err := svc.Universities(context.Background())
	s.Error(err)
	s.Empty(s.cache.entries)
}
