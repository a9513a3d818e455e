package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"forgequeue/pkg/store/redis"
)

// StoreSuite exercises the Job Store contract against a real Redis
// instance. Skips (rather than fails) when none is reachable, matching
// the teacher's integration-test posture.
type StoreSuite struct {
	suite.Suite
	store *redis.Store
	ns    string
}

func (s *StoreSuite) SetupSuite() {
	addr := getEnv("TEST_REDIS_ADDR", "localhost:6379")
	st, err := redis.New(addr)
	if err != nil {
		s.T().Skipf("redis not reachable at %s: %v", addr, err)
	}
	s.store = st
}

func (s *StoreSuite) SetupTest() {
	s.ns = "test-" + time.Now().Format("150405.000000")
}

func (s *StoreSuite) TestPushFetchAck() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{"x":1}`), 3)
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), id)

	recs, err := s.store.FetchBatch(ctx, s.ns, "w1", 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), recs, 1)
	require.Equal(s.T(), id, recs[0].ID)

	require.NoError(s.T(), s.store.Ack(ctx, s.ns, "w1", id))

	// idempotent: second ack is a no-op, not an error.
	require.NoError(s.T(), s.store.Ack(ctx, s.ns, "w1", id))

	empty, err := s.store.IsEmpty(ctx, s.ns)
	require.NoError(s.T(), err)
	require.True(s.T(), empty)
}

func (s *StoreSuite) TestRetryThenKillBoundary() {
	ctx := context.Background()
	// max_attempts=1: the very first failure must kill, not retry.
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 1)
	require.NoError(s.T(), err)

	_, err = s.store.FetchBatch(ctx, s.ns, "w1", 1)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.Retry(ctx, s.ns, "w1", id, "boom", time.Second))

	rec, err := s.store.FetchByID(ctx, s.ns, id)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 0, rec.Attempts, "attempts must not increment on the kill path")
	require.Equal(s.T(), "boom", rec.LastError)
}

func (s *StoreSuite) TestScheduleThenPromote() {
	ctx := context.Background()
	id, err := s.store.Schedule(ctx, s.ns, []byte(`{}`), 3, time.Now().Add(-time.Second))
	require.NoError(s.T(), err)

	n, err := s.store.PromoteScheduled(ctx, s.ns, 10)
	require.NoError(s.T(), err)
	require.GreaterOrEqual(s.T(), n, 1)

	recs, err := s.store.FetchBatch(ctx, s.ns, "w1", 10)
	require.NoError(s.T(), err)
	found := false
	for _, r := range recs {
		if r.ID == id {
			found = true
		}
	}
	require.True(s.T(), found)
}

func (s *StoreSuite) TestReenqueueOrphaned() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 3)
	require.NoError(s.T(), err)

	_, err = s.store.FetchBatch(ctx, s.ns, "dead-worker", 1)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.KeepAlive(ctx, s.ns, "dead-worker"))

	n, err := s.store.ReenqueueOrphaned(ctx, s.ns, 0)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, n)

	recs, err := s.store.FetchBatch(ctx, s.ns, "w2", 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), recs, 1)
	require.Equal(s.T(), id, recs[0].ID)
}

func (s *StoreSuite) TestCancelPendingSucceedsCancelInFlightNoops() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 3)
	require.NoError(s.T(), err)

	cancelled, err := s.store.Cancel(ctx, s.ns, "not-an-id")
	require.NoError(s.T(), err)
	require.False(s.T(), cancelled)

	_, err = s.store.FetchBatch(ctx, s.ns, "w1", 1)
	require.NoError(s.T(), err)

	cancelled, err = s.store.Cancel(ctx, s.ns, id)
	require.NoError(s.T(), err)
	require.False(s.T(), cancelled, "already leased, cancel must no-op")

	id2, err := s.store.Push(ctx, s.ns, []byte(`{}`), 3)
	require.NoError(s.T(), err)
	cancelled, err = s.store.Cancel(ctx, s.ns, id2)
	require.NoError(s.T(), err)
	require.True(s.T(), cancelled)

	recs, err := s.store.FetchBatch(ctx, s.ns, "w1", 10)
	require.NoError(s.T(), err)
	for _, r := range recs {
		require.NotEqual(s.T(), id2, r.ID, "cancelled job must not be dispatched")
	}
}

// TestFetchBatchDeadLettersCorruptedWireRecord corrupts a pending
// record's JSON before it's ever leased, then fetches it. FetchBatch
// must not silently drop the id (leaving it stuck in the worker's
// in-flight set forever) — it must dead-letter it instead.
func (s *StoreSuite) TestFetchBatchDeadLettersCorruptedWireRecord() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 3)
	require.NoError(s.T(), err)

	addr := getEnv("TEST_REDIS_ADDR", "localhost:6379")
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()
	require.NoError(s.T(), client.HSet(ctx, "jobs:"+s.ns+":data", id, "not-valid-json").Err())

	recs, err := s.store.FetchBatch(ctx, s.ns, "w1", 10)
	require.NoError(s.T(), err)
	for _, r := range recs {
		require.NotEqual(s.T(), id, r.ID, "corrupted wire record must not be delivered to a handler")
	}

	inFlight, err := client.SIsMember(ctx, "jobs:"+s.ns+":inflight:w1", id).Result()
	require.NoError(s.T(), err)
	require.False(s.T(), inFlight, "corrupted id must not be left stuck in the in-flight set")

	dead, err := client.ZScore(ctx, "jobs:"+s.ns+":dead", id).Result()
	require.NoError(s.T(), err)
	require.GreaterOrEqual(s.T(), dead, float64(0))

	rec, err := s.store.FetchByID(ctx, s.ns, id)
	require.NoError(s.T(), err)
	require.Contains(s.T(), rec.LastError, "wire record decode failed")
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis-backed suite in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
