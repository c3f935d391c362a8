package model

import "github.com/shopspring/decimal"

// Event tables mirror primary rows for analytics. In postgres they are range
// partitioned by timestamp; the primary key therefore leads with it.

type TransactionEvent struct {
	WorkspaceID   int64           `gorm:"column:workspace_id;type:bigint;primaryKey;autoIncrement:false" json:"workspace_id"`
	Timestamp     int64           `gorm:"column:timestamp;type:bigint;primaryKey;autoIncrement:false" json:"timestamp"`
	TransactionID int64           `gorm:"column:transaction_id;type:bigint;primaryKey;autoIncrement:false" json:"transaction_id"`
	BlockNumber   int64           `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	From          string          `gorm:"column:from;type:varchar(42);not null" json:"from"`
	To            *string         `gorm:"column:to;type:varchar(42)" json:"to,omitempty"`
	Value         decimal.Decimal `gorm:"column:value;type:numeric(78,0);not null" json:"value"`
	GasPrice      decimal.Decimal `gorm:"column:gas_price;type:numeric(78,0);not null" json:"gas_price"`
	GasUsed       decimal.Decimal `gorm:"column:gas_used;type:numeric(78,0);not null" json:"gas_used"`
}

func (TransactionEvent) TableName() string {
	return "transaction_events"
}

type TokenTransferEvent struct {
	WorkspaceID     int64           `gorm:"column:workspace_id;type:bigint;primaryKey;autoIncrement:false" json:"workspace_id"`
	Timestamp       int64           `gorm:"column:timestamp;type:bigint;primaryKey;autoIncrement:false" json:"timestamp"`
	TokenTransferID int64           `gorm:"column:token_transfer_id;type:bigint;primaryKey;autoIncrement:false" json:"token_transfer_id"`
	Token           string          `gorm:"column:token;type:varchar(42);not null" json:"token"`
	Src             string          `gorm:"column:src;type:varchar(42);not null" json:"src"`
	Dst             string          `gorm:"column:dst;type:varchar(42);not null" json:"dst"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	Standard        string          `gorm:"column:standard;type:varchar(16);not null" json:"standard"`
}

func (TokenTransferEvent) TableName() string {
	return "token_transfer_events"
}

type TokenBalanceChangeEvent struct {
	WorkspaceID          int64           `gorm:"column:workspace_id;type:bigint;primaryKey;autoIncrement:false" json:"workspace_id"`
	Timestamp            int64           `gorm:"column:timestamp;type:bigint;primaryKey;autoIncrement:false" json:"timestamp"`
	TokenBalanceChangeID int64           `gorm:"column:token_balance_change_id;type:bigint;primaryKey;autoIncrement:false" json:"token_balance_change_id"`
	Token                string          `gorm:"column:token;type:varchar(42);not null" json:"token"`
	Address              string          `gorm:"column:address;type:varchar(42);not null" json:"address"`
	CurrentBalance       decimal.Decimal `gorm:"column:current_balance;type:numeric(78,0);not null" json:"current_balance"`
	Diff                 decimal.Decimal `gorm:"column:diff;type:numeric(78,0);not null" json:"diff"`
}

func (TokenBalanceChangeEvent) TableName() string {
	return "token_balance_change_events"
}

// Rollups, recomputed by the rollup refresh job.

type TransactionDailyStat struct {
	WorkspaceID       int64           `gorm:"column:workspace_id;type:bigint;primaryKey;autoIncrement:false" json:"workspace_id"`
	Day               int64           `gorm:"column:day;type:bigint;primaryKey;autoIncrement:false" json:"day"` // ms at 00:00 UTC
	TransactionCount  int64           `gorm:"column:transaction_count;type:bigint;not null" json:"transaction_count"`
	UniqueSenderCount int64           `gorm:"column:unique_sender_count;type:bigint;not null" json:"unique_sender_count"`
	GasUsed           decimal.Decimal `gorm:"column:gas_used;type:numeric(78,0);not null" json:"gas_used"`
	UpdatedAt         int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (TransactionDailyStat) TableName() string {
	return "transaction_events_daily"
}

type TokenTransferDailyStat struct {
	WorkspaceID   int64           `gorm:"column:workspace_id;type:bigint;primaryKey;autoIncrement:false" json:"workspace_id"`
	Day           int64           `gorm:"column:day;type:bigint;primaryKey;autoIncrement:false" json:"day"`
	Token         string          `gorm:"column:token;type:varchar(42);primaryKey" json:"token"`
	TransferCount int64           `gorm:"column:transfer_count;type:bigint;not null" json:"transfer_count"`
	Volume        decimal.Decimal `gorm:"column:volume;type:numeric(78,0);not null" json:"volume"`
	UpdatedAt     int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (TokenTransferDailyStat) TableName() string {
	return "token_transfer_events_daily"
}

// ActiveWalletStat counts distinct balance-changing addresses over the 14 days ending at Day.
type ActiveWalletStat struct {
	WorkspaceID int64 `gorm:"column:workspace_id;type:bigint;primaryKey;autoIncrement:false" json:"workspace_id"`
	Day         int64 `gorm:"column:day;type:bigint;primaryKey;autoIncrement:false" json:"day"`
	WalletCount int64 `gorm:"column:wallet_count;type:bigint;not null" json:"wallet_count"`
	UpdatedAt   int64 `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (ActiveWalletStat) TableName() string {
	return "active_wallets_14d"
}
