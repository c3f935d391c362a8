package model

type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped"
)

// JobExecution records one run of a scheduled job.
type JobExecution struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	JobName      string    `gorm:"column:job_name;type:varchar(100);index;not null"`
	Status       JobStatus `gorm:"column:status;type:varchar(20);not null"`
	StartedAt    int64     `gorm:"column:started_at;not null"`
	FinishedAt   *int64    `gorm:"column:finished_at"`
	DurationMs   *int64    `gorm:"column:duration_ms"`
	ErrorMessage *string   `gorm:"column:error_message;type:text"`
	Result       JSONMap   `gorm:"column:result;type:jsonb"`
	CreatedAt    int64     `gorm:"column:created_at;not null"`
}

func (JobExecution) TableName() string {
	return "jobs_executions"
}

// AllModels lists every table for gorm AutoMigrate in tests.
func AllModels() []interface{} {
	return []interface{}{
		&Workspace{},
		&Block{},
		&Transaction{},
		&TransactionReceipt{},
		&TransactionLog{},
		&TokenTransfer{},
		&TokenBalanceChange{},
		&TransactionEvent{},
		&TokenTransferEvent{},
		&TokenBalanceChangeEvent{},
		&TransactionDailyStat{},
		&TokenTransferDailyStat{},
		&ActiveWalletStat{},
		&IntegrityCheck{},
		&RpcHealthCheck{},
		&TransactionQuota{},
		&OrbitChainConfig{},
		&OrbitBatch{},
		&OrbitTransactionState{},
		&JobExecution{},
	}
}
