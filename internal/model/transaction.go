package model

import "github.com/shopspring/decimal"

// Transaction belongs to the block (workspace_id, block_number). The foreign key is
// deferred to commit so a block and its transactions can be written in any order.
type Transaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID      int64           `gorm:"column:workspace_id;type:bigint;uniqueIndex:uk_transactions_workspace_hash,priority:1;index:idx_transactions_block,priority:1;not null" json:"workspace_id"`
	BlockNumber      int64           `gorm:"column:block_number;type:bigint;index:idx_transactions_block,priority:2;not null" json:"block_number"`
	BlockHash        string          `gorm:"column:block_hash;type:varchar(66);not null" json:"block_hash"`
	Hash             string          `gorm:"column:hash;type:varchar(66);uniqueIndex:uk_transactions_workspace_hash,priority:2;not null" json:"hash"`
	TransactionIndex int             `gorm:"column:transaction_index;type:int;not null" json:"transaction_index"`
	From             string          `gorm:"column:from;type:varchar(42);index;not null" json:"from"`
	To               *string         `gorm:"column:to;type:varchar(42);index" json:"to,omitempty"`
	Value            decimal.Decimal `gorm:"column:value;type:numeric(78,0);not null;default:0" json:"value"`
	Nonce            int64           `gorm:"column:nonce;type:bigint;not null" json:"nonce"`
	GasPrice         decimal.Decimal `gorm:"column:gas_price;type:numeric(78,0);not null;default:0" json:"gas_price"`
	GasLimit         decimal.Decimal `gorm:"column:gas_limit;type:numeric(78,0);not null;default:0" json:"gas_limit"`
	Input            string          `gorm:"column:input;type:text" json:"input"`
	Timestamp        int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"` // ms, copied from the block
	Billed           bool            `gorm:"column:billed;type:boolean;index;not null;default:false" json:"billed"`
	Metadata         JSONMap         `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt        int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt        int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// TransactionReceipt 交易回执, one per transaction.
type TransactionReceipt struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID       int64           `gorm:"column:workspace_id;type:bigint;uniqueIndex:uk_receipts_workspace_hash,priority:1;not null" json:"workspace_id"`
	TransactionID     int64           `gorm:"column:transaction_id;type:bigint;uniqueIndex;not null" json:"transaction_id"`
	TransactionHash   string          `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex:uk_receipts_workspace_hash,priority:2;not null" json:"transaction_hash"`
	BlockNumber       int64           `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	Status            int             `gorm:"column:status;type:smallint;not null" json:"status"` // 1 success, 0 reverted
	GasUsed           decimal.Decimal `gorm:"column:gas_used;type:numeric(78,0);not null;default:0" json:"gas_used"`
	CumulativeGasUsed decimal.Decimal `gorm:"column:cumulative_gas_used;type:numeric(78,0);not null;default:0" json:"cumulative_gas_used"`
	EffectiveGasPrice decimal.Decimal `gorm:"column:effective_gas_price;type:numeric(78,0);not null;default:0" json:"effective_gas_price"`
	ContractAddress   *string         `gorm:"column:contract_address;type:varchar(42)" json:"contract_address,omitempty"`
	CreatedAt         int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

func (TransactionReceipt) TableName() string {
	return "transaction_receipts"
}

// TransactionLog 事件日志
type TransactionLog struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID          int64      `gorm:"column:workspace_id;type:bigint;not null" json:"workspace_id"`
	TransactionReceiptID int64      `gorm:"column:transaction_receipt_id;type:bigint;uniqueIndex:uk_logs_receipt_index,priority:1;not null" json:"transaction_receipt_id"`
	TransactionID        int64      `gorm:"column:transaction_id;type:bigint;index;not null" json:"transaction_id"`
	LogIndex             int        `gorm:"column:log_index;type:int;uniqueIndex:uk_logs_receipt_index,priority:2;not null" json:"log_index"`
	Address              string     `gorm:"column:address;type:varchar(42);index;not null" json:"address"`
	Topics               StringList `gorm:"column:topics;type:jsonb;not null" json:"topics"`
	Data                 string     `gorm:"column:data;type:text" json:"data"`
	CreatedAt            int64      `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

func (TransactionLog) TableName() string {
	return "transaction_logs"
}
