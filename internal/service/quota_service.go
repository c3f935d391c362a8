package service

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

// Plan is the billing allowance of a workspace for one window.
type Plan struct {
	Quota int64
}

// PlanProvider resolves a workspace's plan. A nil plan means unlimited.
type PlanProvider interface {
	Plan(ctx context.Context, workspaceID int64) (*Plan, error)
}

// StaticPlanProvider gives every workspace the same quota; 0 means unlimited.
type StaticPlanProvider struct {
	Quota int64
}

func (p StaticPlanProvider) Plan(context.Context, int64) (*Plan, error) {
	if p.Quota == 0 {
		return nil, nil
	}
	return &Plan{Quota: p.Quota}, nil
}

type QuotaWindow string

const (
	QuotaWindowMonthly QuotaWindow = "monthly"
	QuotaWindowDaily   QuotaWindow = "daily"
)

// next returns the end of a window starting at start.
func (w QuotaWindow) next(start time.Time) time.Time {
	if w == QuotaWindowDaily {
		return start.AddDate(0, 0, 1)
	}
	return start.AddDate(0, 1, 0)
}

// align returns the calendar start of the window containing t.
func (w QuotaWindow) align(t time.Time) time.Time {
	t = t.UTC()
	if w == QuotaWindowDaily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Admission is the outcome of one admit call.
type Admission struct {
	Admitted  bool
	Unlimited bool
	Quota     int64
	Count     int64 // after this admission
	EndsAt    int64
}

// QuotaService meters ingested transactions per workspace window. Admit must share the caller's storage transaction so
// the count only moves if the ingestion unit commits.
type QuotaService struct {
	txm    repository.TxManager
	repo   repository.QuotaRepository
	plans  PlanProvider
	window QuotaWindow
	now    func() time.Time
}

func NewQuotaService(txm repository.TxManager, repo repository.QuotaRepository, plans PlanProvider, window QuotaWindow) *QuotaService {
	if window == "" {
		window = QuotaWindowMonthly
	}
	return &QuotaService{txm: txm, repo: repo, plans: plans, window: window, now: time.Now}
}

// Admit reserves txCount transactions in the active window, creating the window
// when the previous one has ended.
func (s *QuotaService) Admit(ctx context.Context, workspaceID int64, txCount int64) (*Admission, error) {
	if txCount < 1 {
		return nil, validationErr("transaction count must be positive, got %d", txCount)
	}

	plan, err := s.plans.Plan(ctx, workspaceID)
	if err != nil {
		return nil, classify("resolve plan", err)
	}
	if plan == nil {
		return &Admission{Admitted: true, Unlimited: true}, nil
	}
	if plan.Quota < 0 {
		return nil, validationErr("negative quota %d for workspace %d", plan.Quota, workspaceID)
	}

	var adm *Admission
	err = s.txm.Transaction(ctx, func(ctx context.Context) error {
		q, err := s.activeWindow(ctx, workspaceID, plan)
		if err != nil {
			return err
		}
		adm = &Admission{Quota: q.Quota, Count: q.Count, EndsAt: q.EndsAt}
		if q.Count+txCount > q.Quota {
			return nil
		}
		if err := s.repo.IncrementCount(ctx, q.ID, txCount); err != nil {
			return err
		}
		adm.Admitted = true
		adm.Count = q.Count + txCount
		return nil
	})
	if err != nil {
		return nil, classify("admit", err)
	}

	if !adm.Admitted {
		metrics.QuotaRejectionsTotal.Inc()
		logger.Info("transaction quota exceeded",
			zap.Int64("workspace_id", workspaceID),
			zap.Int64("quota", adm.Quota),
			zap.Int64("count", adm.Count),
			zap.Int64("requested", txCount))
	}
	return adm, nil
}

// activeWindow returns the locked window containing now, rolling over if needed.
func (s *QuotaService) activeWindow(ctx context.Context, workspaceID int64, plan *Plan) (*model.TransactionQuota, error) {
	now := s.now().UTC()
	q, err := s.repo.GetActive(ctx, workspaceID, now.UnixMilli(), &repository.QueryOptions{ForUpdate: true})
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, repository.ErrQuotaNotFound) {
		return nil, err
	}

	start := s.window.align(now)
	latest, err := s.repo.GetLatest(ctx, workspaceID)
	switch {
	case err == nil:
		// keep the cadence of the previous window, skipping idle periods
		start = time.UnixMilli(latest.EndsAt).UTC()
		for !s.window.next(start).After(now) {
			start = s.window.next(start)
		}
	case !errors.Is(err, repository.ErrQuotaNotFound):
		return nil, err
	}

	window := &model.TransactionQuota{
		WorkspaceID: workspaceID,
		StartsAt:    start.UnixMilli(),
		EndsAt:      s.window.next(start).UnixMilli(),
		Quota:       plan.Quota,
	}
	created, err := s.repo.CreateIfAbsent(ctx, window)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("quota window opened",
			zap.Int64("workspace_id", workspaceID),
			zap.Int64("starts_at", window.StartsAt),
			zap.Int64("ends_at", window.EndsAt),
			zap.Int64("quota", window.Quota))
	}
	return s.repo.GetActive(ctx, workspaceID, now.UnixMilli(), &repository.QueryOptions{ForUpdate: true})
}

// RolloverExpired opens the next window for workspaces whose latest one ended.
// Admit does the same lazily; this keeps usage reporting current for idle tenants.
func (s *QuotaService) RolloverExpired(ctx context.Context) (int, error) {
	ids, err := s.repo.ListExpiredWorkspaces(ctx, s.now().UnixMilli())
	if err != nil {
		return 0, classify("list expired quotas", err)
	}

	rolled := 0
	for _, id := range ids {
		plan, err := s.plans.Plan(ctx, id)
		if err != nil {
			return rolled, classify("resolve plan", err)
		}
		if plan == nil || plan.Quota < 0 {
			continue
		}
		err = s.txm.Transaction(ctx, func(ctx context.Context) error {
			_, err := s.activeWindow(ctx, id, plan)
			return err
		})
		if err != nil {
			return rolled, classify("rollover quota", err)
		}
		rolled++
	}
	return rolled, nil
}
