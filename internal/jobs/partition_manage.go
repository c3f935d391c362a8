package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/scheduler"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventTables are the analytics mirrors range-partitioned by "timestamp" (ms).
var EventTables = []string{
	"transaction_events",
	"token_transfer_events",
	"token_balance_change_events",
}

// PartitionManageJob keeps monthly partitions ahead of incoming events. Rows
// that land in the DEFAULT partition block creating the matching month, so
// partitions must exist before their month starts.
type PartitionManageJob struct {
	scheduler.BaseJob
	db     *gorm.DB
	tables []string
	ahead  int
	now    func() time.Time
}

// NewPartitionManageJob creates the current month plus `ahead` future months.
func NewPartitionManageJob(db *gorm.DB, tables []string, ahead int) *PartitionManageJob {
	if ahead <= 0 {
		ahead = 1
	}
	return &PartitionManageJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNamePartitionMgmt, 10*time.Minute, 10*time.Minute, false),
		db:      db,
		tables:  tables,
		ahead:   ahead,
		now:     time.Now,
	}
}

func (j *PartitionManageJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	result := &scheduler.JobResult{Details: make(map[string]interface{})}
	first := j.now().UTC()
	first = time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, table := range j.tables {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var created []string
		for i := 0; i <= j.ahead; i++ {
			month := first.AddDate(0, i, 0)
			name, ok, err := j.createMonthlyPartition(ctx, table, month)
			if err != nil {
				logger.Error("failed to create partition", zap.String("table", table), zap.String("partition", name), zap.Error(err))
				result.ErrorCount++
				continue
			}
			if ok {
				created = append(created, name)
				result.AffectedCount++
			}
		}
		result.Details[table] = created
		result.ProcessedCount++
	}

	logger.Info("partition management completed",
		zap.Int("tables", result.ProcessedCount),
		zap.Int("created", result.AffectedCount),
		zap.Int("errors", result.ErrorCount))
	return result, nil
}

func (j *PartitionManageJob) createMonthlyPartition(ctx context.Context, table string, month time.Time) (string, bool, error) {
	name := fmt.Sprintf("%s_%d_%02d", table, month.Year(), int(month.Month()))

	var exists bool
	err := j.db.WithContext(ctx).
		Raw(`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = 'public' AND tablename = ?)`, name).
		Scan(&exists).Error
	if err != nil {
		return name, false, fmt.Errorf("check partition: %w", err)
	}
	if exists {
		return name, false, nil
	}

	start := month.UnixMilli()
	end := month.AddDate(0, 1, 0).UnixMilli()
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%d) TO (%d)`, name, table, start, end)
	if err := j.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return name, false, fmt.Errorf("create partition: %w", err)
	}

	logger.Info("partition created", zap.String("partition", name), zap.Int64("start_ts", start), zap.Int64("end_ts", end))
	return name, true, nil
}
