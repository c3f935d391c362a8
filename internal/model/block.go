package model

import "github.com/shopspring/decimal"

// Block 区块
type Block struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID       int64           `gorm:"column:workspace_id;type:bigint;uniqueIndex:uk_blocks_workspace_number,priority:1;uniqueIndex:uk_blocks_workspace_hash,priority:1;not null" json:"workspace_id"`
	Number            int64           `gorm:"column:number;type:bigint;uniqueIndex:uk_blocks_workspace_number,priority:2;not null" json:"number"`
	Hash              string          `gorm:"column:hash;type:varchar(66);uniqueIndex:uk_blocks_workspace_hash,priority:2;not null" json:"hash"`
	ParentHash        string          `gorm:"column:parent_hash;type:varchar(66);not null" json:"parent_hash"`
	Miner             string          `gorm:"column:miner;type:varchar(42)" json:"miner"`
	GasLimit          decimal.Decimal `gorm:"column:gas_limit;type:numeric(78,0);not null;default:0" json:"gas_limit"`
	GasUsed           decimal.Decimal `gorm:"column:gas_used;type:numeric(78,0);not null;default:0" json:"gas_used"`
	BaseFeePerGas     decimal.Decimal `gorm:"column:base_fee_per_gas;type:numeric(78,0);not null;default:0" json:"base_fee_per_gas"`
	Timestamp         int64           `gorm:"column:timestamp;type:bigint;index;not null" json:"timestamp"` // ms
	TransactionsCount int             `gorm:"column:transactions_count;type:int;not null;default:0" json:"transactions_count"`
	Metadata          JSONMap         `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt         int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt         int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (Block) TableName() string {
	return "blocks"
}
