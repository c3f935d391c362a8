package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

// IntegrityService holds the chain tracking status flipped by the gap detector.
// Any valid status may follow any other.
type IntegrityService struct {
	repo repository.IntegrityRepository
}

func NewIntegrityService(repo repository.IntegrityRepository) *IntegrityService {
	return &IntegrityService{repo: repo}
}

func (s *IntegrityService) SetStatus(ctx context.Context, workspaceID int64, status model.IntegrityStatus) (*model.IntegrityCheck, error) {
	if !status.Valid() {
		return nil, validationErr("unknown integrity status %q", status)
	}
	check, err := s.repo.Upsert(ctx, workspaceID, status)
	if err != nil {
		return nil, classify("set integrity status", err)
	}

	gauge := 0.0
	if status == model.IntegrityStatusRecovering {
		gauge = 1
	}
	metrics.IntegrityStatusGauge.WithLabelValues(strconv.FormatInt(workspaceID, 10)).Set(gauge)
	logger.Info("integrity status set", zap.Int64("workspace_id", workspaceID), zap.String("status", string(status)))
	return check, nil
}

// GetStatus returns healthy for a workspace that was never flagged.
func (s *IntegrityService) GetStatus(ctx context.Context, workspaceID int64) (model.IntegrityStatus, error) {
	check, err := s.repo.Get(ctx, workspaceID)
	if errors.Is(err, repository.ErrIntegrityCheckNotFound) {
		return model.IntegrityStatusHealthy, nil
	}
	if err != nil {
		return "", classify("get integrity status", err)
	}
	return check.Status, nil
}
