//go:build integration

package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"changegate/internal/change/models"
	"changegate/internal/change/registry"
	"changegate/pkg/testutil/containers"
)

type RedisRegistrySuite struct {
	suite.Suite
	redis *containers.RedisContainer
	now   time.Time
	reg   *registry.RedisRegistry
}

func TestRedisRegistrySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisRegistrySuite))
}

func (s *RedisRegistrySuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisRegistrySuite) SetupTest() {
	s.redis.Reset(s.T())
	s.now = time.Now()
	s.reg = registry.NewRedis(s.redis.Client, time.Minute, registry.WithRedisClock(func() time.Time { return s.now }))
}

func (s *RedisRegistrySuite) request(entityID string) models.ChangeRequest {
	return models.NewChangeRequest("banner", entityID, models.OperationUpdate, models.Fields{"name": "spring"}, "idem-"+entityID)
}

func (s *RedisRegistrySuite) TestProposeRedeemRoundTrip() {
	ctx := context.Background()
	tok, err := s.reg.Propose(ctx, s.request("banner-1"))
	s.Require().NoError(err)

	req, err := s.reg.Redeem(ctx, tok.Value)
	s.Require().NoError(err)
	s.Equal("banner-1", req.EntityID)
	s.Equal("spring", req.Payload["name"])
	s.Equal("idem-banner-1", req.IdempotencyKey)

	_, err = s.reg.Redeem(ctx, tok.Value)
	s.ErrorIs(err, registry.ErrTokenAlreadyConsumed)
}

func (s *RedisRegistrySuite) TestPendingConflict() {
	ctx := context.Background()
	tok, err := s.reg.Propose(ctx, s.request("banner-2"))
	s.Require().NoError(err)

	_, err = s.reg.Propose(ctx, s.request("banner-2"))
	s.ErrorIs(err, registry.ErrConflict)

	s.Require().NoError(s.reg.Cancel(ctx, tok.Value))
	_, err = s.reg.Propose(ctx, s.request("banner-2"))
	s.NoError(err)
}

func (s *RedisRegistrySuite) TestRedeemHoldsEntityUntilRelease() {
	ctx := context.Background()
	tok, err := s.reg.Propose(ctx, s.request("banner-hold"))
	s.Require().NoError(err)
	_, err = s.reg.Redeem(ctx, tok.Value)
	s.Require().NoError(err)

	_, err = s.reg.Propose(ctx, s.request("banner-hold"))
	s.ErrorIs(err, registry.ErrConflict)

	s.Require().NoError(s.reg.Release(ctx, "other-token"))
	_, err = s.reg.Propose(ctx, s.request("banner-hold"))
	s.ErrorIs(err, registry.ErrConflict)

	s.Require().NoError(s.reg.Release(ctx, tok.Value))
	_, err = s.reg.Propose(ctx, s.request("banner-hold"))
	s.NoError(err)
	s.NoError(s.reg.Release(ctx, "never-issued"))
}

func (s *RedisRegistrySuite) TestTombstoneDropsPayload() {
	ctx := context.Background()
	secret := models.NewChangeRequest("password", "pw-1", models.OperationUpdate, models.Fields{"password": "hunter22secret"}, "idem-pw")
	redeemed, err := s.reg.Propose(ctx, secret)
	s.Require().NoError(err)
	_, err = s.reg.Redeem(ctx, redeemed.Value)
	s.Require().NoError(err)

	cancelled, err := s.reg.Propose(ctx, models.NewChangeRequest("password", "pw-2", models.OperationUpdate, models.Fields{"password": "hunter22secret"}, "idem-pw-2"))
	s.Require().NoError(err)
	s.Require().NoError(s.reg.Cancel(ctx, cancelled.Value))

	for _, value := range []string{redeemed.Value, cancelled.Value} {
		fields, err := s.redis.Client.HGetAll(ctx, "changegate:token:"+value).Result()
		s.Require().NoError(err)
		s.Equal("1", fields["consumed"])
		s.NotContains(fields, "request")
	}
}

func (s *RedisRegistrySuite) TestPayloadIntegersSurviveRoundTrip() {
	ctx := context.Background()
	req := models.NewChangeRequest("site", "s-big", models.OperationUpdate, models.Fields{"visitors": int64(1)<<60 + 1}, "idem-big")
	tok, err := s.reg.Propose(ctx, req)
	s.Require().NoError(err)

	got, err := s.reg.Redeem(ctx, tok.Value)
	s.Require().NoError(err)
	s.Equal(int64(1)<<60+1, got.Payload["visitors"])
}

func (s *RedisRegistrySuite) TestExpiryAndUnknown() {
	ctx := context.Background()
	tok, err := s.reg.Propose(ctx, s.request("banner-3"))
	s.Require().NoError(err)

	s.now = s.now.Add(time.Minute)
	_, err = s.reg.Redeem(ctx, tok.Value)
	s.ErrorIs(err, registry.ErrTokenExpired)

	_, err = s.reg.Redeem(ctx, "unknown")
	s.ErrorIs(err, registry.ErrTokenNotFound)
	s.ErrorIs(s.reg.Cancel(ctx, "unknown"), registry.ErrTokenNotFound)
}

func (s *RedisRegistrySuite) TestConcurrentRedeem() {
	ctx := context.Background()
	tok, err := s.reg.Propose(ctx, s.request("banner-race"))
	s.Require().NoError(err)

	const goroutines = 32
	var wg sync.WaitGroup
	var success, consumed atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.reg.Redeem(ctx, tok.Value)
			if err == nil {
				success.Add(1)
			} else if errors.Is(err, registry.ErrTokenAlreadyConsumed) {
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), success.Load())
	s.Equal(int32(goroutines-1), consumed.Load())
}
