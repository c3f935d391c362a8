package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainPolicy_CachesForTTL(t *testing.T) {
	var hits atomic.Int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[56, 137]`))
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	policy := NewChainPolicy(&HTTPChainSource{URL: srv.URL, Client: srv.Client()}, 5*time.Minute)
	policy.now = func() time.Time { return now }
	ctx := context.Background()

	forbidden, err := policy.IsForbidden(ctx, 56)
	require.NoError(t, err)
	assert.True(t, forbidden)

	forbidden, err = policy.IsForbidden(ctx, 1)
	require.NoError(t, err)
	assert.False(t, forbidden)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(5 * time.Minute)
	failing.Store(true)
	forbidden, err = policy.IsForbidden(ctx, 137)
	require.NoError(t, err, "stale list keeps serving")
	assert.True(t, forbidden)
	assert.Equal(t, int32(2), hits.Load())

	failing.Store(false)
	_, err = policy.IsForbidden(ctx, 137)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "failed refresh restarts the ttl")

	now = now.Add(5 * time.Minute)
	_, err = policy.IsForbidden(ctx, 137)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

type flakyChainSource struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (s *flakyChainSource) ForbiddenChains(context.Context) ([]int64, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return []int64{56}, nil
}

func TestChainPolicy_FailedRefreshBacksOff(t *testing.T) {
	src := &flakyChainSource{}
	now := time.Unix(1700000000, 0)
	policy := NewChainPolicy(src, time.Minute)
	policy.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := policy.IsForbidden(ctx, 56)
	require.NoError(t, err)

	src.fail.Store(true)
	now = now.Add(2 * time.Minute)
	for i := 0; i < 50; i++ {
		forbidden, err := policy.IsForbidden(ctx, 56)
		require.NoError(t, err)
		assert.True(t, forbidden)
	}
	assert.Equal(t, int32(2), src.calls.Load())

	now = now.Add(time.Minute)
	_, err = policy.IsForbidden(ctx, 56)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestChainPolicy_NoListYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	policy := NewChainPolicy(&HTTPChainSource{URL: srv.URL}, time.Minute)
	_, err := policy.IsForbidden(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.True(t, IsRetryable(err))
}

func TestChainPolicy_Static(t *testing.T) {
	policy := NewChainPolicy(StaticChainSource{10}, 0)
	forbidden, err := policy.IsForbidden(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, forbidden)
}
