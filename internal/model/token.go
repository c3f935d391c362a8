package model

import "github.com/shopspring/decimal"

// NativeLogIndex marks a transfer of the chain's native asset, which has no log.
const NativeLogIndex = -1

// NativeTokenAddress stands in for the token column of native transfers.
const NativeTokenAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// TokenTransfer 代币转账, derived from logs or the transaction value.
type TokenTransfer struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID   int64           `gorm:"column:workspace_id;type:bigint;uniqueIndex:uk_token_transfers_natural,priority:1;not null" json:"workspace_id"`
	TransactionID int64           `gorm:"column:transaction_id;type:bigint;uniqueIndex:uk_token_transfers_natural,priority:2;not null" json:"transaction_id"`
	LogIndex      int             `gorm:"column:log_index;type:int;uniqueIndex:uk_token_transfers_natural,priority:3;not null" json:"log_index"`
	Token         string          `gorm:"column:token;type:varchar(42);uniqueIndex:uk_token_transfers_natural,priority:4;index;not null" json:"token"`
	TokenID       string          `gorm:"column:token_id;type:varchar(80);uniqueIndex:uk_token_transfers_natural,priority:5;not null;default:''" json:"token_id"`
	Src           string          `gorm:"column:src;type:varchar(42);index;not null" json:"src"`
	Dst           string          `gorm:"column:dst;type:varchar(42);index;not null" json:"dst"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	Standard      string          `gorm:"column:standard;type:varchar(16);not null" json:"standard"` // native, erc20, erc721, erc1155
	Timestamp     int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

func (TokenTransfer) TableName() string {
	return "token_transfers"
}

// TokenBalanceChange 余额变动. At most one row per (workspace, transaction, token, address);
// the index is intentionally not unique, see DedupService.
type TokenBalanceChange struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID     int64           `gorm:"column:workspace_id;type:bigint;index:idx_tbc_logical,priority:1;not null" json:"workspace_id"`
	TransactionID   int64           `gorm:"column:transaction_id;type:bigint;index:idx_tbc_logical,priority:2;not null" json:"transaction_id"`
	Token           string          `gorm:"column:token;type:varchar(42);index:idx_tbc_logical,priority:3;not null" json:"token"`
	Address         string          `gorm:"column:address;type:varchar(42);index:idx_tbc_logical,priority:4;index;not null" json:"address"`
	PreviousBalance decimal.Decimal `gorm:"column:previous_balance;type:numeric(78,0);not null" json:"previous_balance"`
	CurrentBalance  decimal.Decimal `gorm:"column:current_balance;type:numeric(78,0);not null" json:"current_balance"`
	Diff            decimal.Decimal `gorm:"column:diff;type:numeric(78,0);not null" json:"diff"`
	BlockNumber     int64           `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	Timestamp       int64           `gorm:"column:timestamp;type:bigint;not null" json:"timestamp"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

func (TokenBalanceChange) TableName() string {
	return "token_balance_changes"
}
