package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

const defaultChainPolicyTTL = 5 * time.Minute

// ChainSource lists chain ids that may not be indexed.
type ChainSource interface {
	ForbiddenChains(ctx context.Context) ([]int64, error)
}

// StaticChainSource is a fixed list from configuration.
type StaticChainSource []int64

func (s StaticChainSource) ForbiddenChains(context.Context) ([]int64, error) {
	return []int64(s), nil
}

// HTTPChainSource fetches a JSON array of chain ids.
type HTTPChainSource struct {
	URL    string
	Client *http.Client
}

func (s *HTTPChainSource) ForbiddenChains(ctx context.Context) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forbidden chains source returned %d", resp.StatusCode)
	}
	var ids []int64
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode forbidden chains: %w", err)
	}
	return ids, nil
}

type chainSnapshot struct {
	forbidden map[int64]struct{}
	fetchedAt time.Time
}

// ChainPolicy caches the forbidden chain list for a TTL. Concurrent refreshes may
// both hit the source; the last one wins, which is harmless.
type ChainPolicy struct {
	source ChainSource
	ttl    time.Duration
	now    func() time.Time
	snap   atomic.Pointer[chainSnapshot]
}

func NewChainPolicy(source ChainSource, ttl time.Duration) *ChainPolicy {
	if ttl <= 0 {
		ttl = defaultChainPolicyTTL
	}
	return &ChainPolicy{source: source, ttl: ttl, now: time.Now}
}

// IsForbidden reports whether chainID is on the list. When a refresh fails the
// previous list keeps serving for another TTL; with no list at all the error
// is returned.
func (p *ChainPolicy) IsForbidden(ctx context.Context, chainID int64) (bool, error) {
	snap := p.snap.Load()
	if snap == nil || p.now().Sub(snap.fetchedAt) >= p.ttl {
		fresh, err := p.refresh(ctx)
		if err != nil {
			if snap == nil {
				return false, fmt.Errorf("%w: load forbidden chains: %w", ErrInfrastructure, err)
			}
			logger.Warn("forbidden chains refresh failed, serving stale list", zap.Error(err))
			p.snap.Store(&chainSnapshot{forbidden: snap.forbidden, fetchedAt: p.now()})
		} else {
			snap = fresh
		}
	}
	_, forbidden := snap.forbidden[chainID]
	return forbidden, nil
}

func (p *ChainPolicy) refresh(ctx context.Context) (*chainSnapshot, error) {
	ids, err := p.source.ForbiddenChains(ctx)
	if err != nil {
		return nil, err
	}
	snap := &chainSnapshot{forbidden: make(map[int64]struct{}, len(ids)), fetchedAt: p.now()}
	for _, id := range ids {
		snap.forbidden[id] = struct{}{}
	}
	p.snap.Store(snap)
	return snap, nil
}
