//go:build integration

package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"int20h/internal/catalog"
	"int20h/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *catalog.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = catalog.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestMissThenHit() {
	ctx := context.Background()

	_, ok, err := s.cache.Get(ctx, "categories")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Set(ctx, "categories", []byte(`[{"id":1}]`), time.Minute))

	val, ok, err := s.cache.Get(ctx, "categories")
	s.Require().NoError(err)
	s.True(ok)
	s.JSONEq(`[{"id":1}]`, string(val))

	ttl, err := s.redis.Client.TTL(ctx, "catalog:categories").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}
