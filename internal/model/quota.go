package model

// TransactionQuota is one billing window of a workspace. Windows never overlap.
type TransactionQuota struct {
	ID          int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID int64 `gorm:"column:workspace_id;type:bigint;uniqueIndex:uk_quota_window,priority:1;not null" json:"workspace_id"`
	StartsAt    int64 `gorm:"column:starts_at;type:bigint;uniqueIndex:uk_quota_window,priority:2;not null" json:"starts_at"`
	EndsAt      int64 `gorm:"column:ends_at;type:bigint;index;not null" json:"ends_at"`
	Quota       int64 `gorm:"column:quota;type:bigint;not null" json:"quota"`
	Count       int64 `gorm:"column:count;type:bigint;not null;default:0" json:"count"`
	CreatedAt   int64 `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt   int64 `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (TransactionQuota) TableName() string {
	return "transaction_quotas"
}

// Active reports whether now (ms) falls inside the window.
func (q *TransactionQuota) Active(now int64) bool {
	return q.StartsAt <= now && now < q.EndsAt
}

// Remaining 剩余额度
func (q *TransactionQuota) Remaining() int64 {
	if q.Count >= q.Quota {
		return 0
	}
	return q.Quota - q.Count
}
