package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"forgequeue/pkg/store/postgres"
)

// StoreSuite exercises the same contract as the Redis suite against a
// real Postgres instance. Skips when none is reachable.
type StoreSuite struct {
	suite.Suite
	store *postgres.Store
	ns    string
}

func (s *StoreSuite) SetupSuite() {
	dsn := getEnv("TEST_POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=forgequeue_test port=5432 sslmode=disable")
	st, err := postgres.New(dsn)
	if err != nil {
		s.T().Skipf("postgres not reachable: %v", err)
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
	require.NoError(s.T(), s.store.Ack(ctx, s.ns, "w1", id)) // idempotent

	empty, err := s.store.IsEmpty(ctx, s.ns)
	require.NoError(s.T(), err)
	require.True(s.T(), empty)
}

func (s *StoreSuite) TestRetryThenKillBoundary() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 1)
	require.NoError(s.T(), err)

	_, err = s.store.FetchBatch(ctx, s.ns, "w1", 1)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.Retry(ctx, s.ns, "w1", id, "boom", time.Second))

	rec, err := s.store.FetchByID(ctx, s.ns, id)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 0, rec.Attempts, "attempts must not increment on the kill path")
	require.Equal(s.T(), "boom", rec.LastError)

	stats, err := s.store.Stats(ctx, s.ns)
	require.NoError(s.T(), err)
	require.EqualValues(s.T(), 1, stats.Dead)
	require.EqualValues(s.T(), 1, stats.Failed, "dead and failed coincide for a killed job")
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

func (s *StoreSuite) TestVacuum() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 1)
	require.NoError(s.T(), err)

	_, err = s.store.FetchBatch(ctx, s.ns, "w1", 1)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.Kill(ctx, s.ns, "w1", id, "fatal"))

	n, err := s.store.Vacuum(ctx, s.ns)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, n)

	_, err = s.store.FetchByID(ctx, s.ns, id)
	require.Error(s.T(), err)
}

func (s *StoreSuite) TestCancelPendingSucceedsCancelInFlightNoops() {
	ctx := context.Background()
	id, err := s.store.Push(ctx, s.ns, []byte(`{}`), 3)
	require.NoError(s.T(), err)

	_, err = s.store.FetchBatch(ctx, s.ns, "w1", 1)
	require.NoError(s.T(), err)

	cancelled, err := s.store.Cancel(ctx, s.ns, id)
	require.NoError(s.T(), err)
	require.False(s.T(), cancelled, "already leased, cancel must no-op")

	id2, err := s.store.Push(ctx, s.ns, []byte(`{}`), 3)
	require.NoError(s.T(), err)
	cancelled, err = s.store.Cancel(ctx, s.ns, id2)
	require.NoError(s.T(), err)
	require.True(s.T(), cancelled)

	_, err = s.store.FetchByID(ctx, s.ns, id2)
	require.Error(s.T(), err)
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres-backed suite in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
