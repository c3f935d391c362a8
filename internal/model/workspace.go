package model

// Workspace is the tenant boundary. Rows are owned by the explorer control plane.
type Workspace struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string `gorm:"column:name;type:varchar(255);not null" json:"name"`
	ChainID   int64  `gorm:"column:chain_id;type:bigint;index;not null" json:"chain_id"`
	RpcServer string `gorm:"column:rpc_server;type:varchar(512)" json:"rpc_server"`
	CreatedAt int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (Workspace) TableName() string {
	return "workspaces"
}
