//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"boxoffice/internal/inventory/cache"
	id "boxoffice/pkg/domain"
	"boxoffice/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = cache.NewRedisCache(s.redis.Client, time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestRoundTripAndInvalidate() {
	ctx := context.Background()
	category := id.CategoryID(uuid.New())

	_, ok, err := s.cache.Get(ctx, category)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Set(ctx, category, 42))
	n, ok, err := s.cache.Get(ctx, category)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(42, n)

	s.Require().NoError(s.cache.Invalidate(ctx, category))
	_, ok, err = s.cache.Get(ctx, category)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestEntriesExpire() {
	ctx := context.Background()
	category := id.CategoryID(uuid.New())
	short := cache.NewRedisCache(s.redis.Client, 50*time.Millisecond)

	s.Require().NoError(short.Set(ctx, category, 1))
	time.Sleep(100 * time.Millisecond)

	_, ok, err := short.Get(ctx, category)
	s.Require().NoError(err)
	s.False(ok)
}
