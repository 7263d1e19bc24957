//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"boxoffice/internal/ratelimit/store"
	"boxoffice/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestLimitEnforced() {
	ctx := context.Background()
	for i := range 3 {
		res, err := s.store.Allow(ctx, "reserve:10.0.0.1", 3, time.Minute)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}
	res, err := s.store.Allow(ctx, "reserve:10.0.0.1", 3, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.True(res.ResetAt.After(time.Now()))

	// Rejections are not counted against the window.
	n, err := s.redis.Client.ZCard(ctx, "boxoffice:ratelimit:reserve:10.0.0.1").Result()
	s.Require().NoError(err)
	s.Equal(int64(3), n)
}

func (s *RedisStoreSuite) TestConcurrentCallersShareWindow() {
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(ctx, "shared", 10, time.Minute)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(10, allowed)
}

func (s *RedisStoreSuite) TestKeyExpires() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "short", 1, 50*time.Millisecond)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		n, _ := s.redis.Client.Exists(ctx, "boxoffice:ratelimit:short").Result()
		return n == 0
	}, time.Second, 20*time.Millisecond)
}
