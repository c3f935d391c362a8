package model

// IntegrityStatus 链跟踪健康状态
type IntegrityStatus string

const (
	IntegrityStatusHealthy    IntegrityStatus = "healthy"
	IntegrityStatusRecovering IntegrityStatus = "recovering"
)

func (s IntegrityStatus) Valid() bool {
	return s == IntegrityStatusHealthy || s == IntegrityStatusRecovering
}

type IntegrityCheck struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID int64           `gorm:"column:workspace_id;type:bigint;uniqueIndex;not null" json:"workspace_id"`
	Status      IntegrityStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	CreatedAt   int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt   int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (IntegrityCheck) TableName() string {
	return "integrity_checks"
}

// RpcHealthCheck tracks consecutive probe failures of a workspace's RPC endpoint.
type RpcHealthCheck struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID    int64  `gorm:"column:workspace_id;type:bigint;uniqueIndex;not null" json:"workspace_id"`
	IsReachable    bool   `gorm:"column:is_reachable;type:boolean;not null" json:"is_reachable"`
	FailedAttempts int    `gorm:"column:failed_attempts;type:int;not null;default:0" json:"failed_attempts"`
	LastCheckedAt  int64  `gorm:"column:last_checked_at;type:bigint;not null" json:"last_checked_at"`
	SyncStoppedAt  *int64 `gorm:"column:sync_stopped_at;type:bigint" json:"sync_stopped_at,omitempty"`
	CreatedAt      int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt      int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (RpcHealthCheck) TableName() string {
	return "rpc_health_checks"
}
