package model

// OrbitState is the finality stage of a rollup transaction.
type OrbitState string

const (
	OrbitStateSubmitted OrbitState = "SUBMITTED"
	OrbitStateSequenced OrbitState = "SEQUENCED"
	OrbitStatePosted    OrbitState = "POSTED"
	OrbitStateConfirmed OrbitState = "CONFIRMED"
	OrbitStateFinalized OrbitState = "FINALIZED"
	OrbitStateFailed    OrbitState = "FAILED"
)

var orbitStateOrder = map[OrbitState]int{
	OrbitStateSubmitted: 0,
	OrbitStateSequenced: 1,
	OrbitStatePosted:    2,
	OrbitStateConfirmed: 3,
	OrbitStateFinalized: 4,
}

// Rank is the position on the happy path; -1 for FAILED and unknown states.
func (s OrbitState) Rank() int {
	if r, ok := orbitStateOrder[s]; ok {
		return r
	}
	return -1
}

func (s OrbitState) Valid() bool {
	return s == OrbitStateFailed || s.Rank() >= 0
}

func (s OrbitState) Terminal() bool {
	return s == OrbitStateFinalized || s == OrbitStateFailed
}

// OrbitBatchStatus 批次状态
type OrbitBatchStatus string

const (
	OrbitBatchPending    OrbitBatchStatus = "pending"
	OrbitBatchConfirmed  OrbitBatchStatus = "confirmed"
	OrbitBatchChallenged OrbitBatchStatus = "challenged"
	OrbitBatchFinalized  OrbitBatchStatus = "finalized"
)

var orbitBatchOrder = map[OrbitBatchStatus]int{
	OrbitBatchPending:    0,
	OrbitBatchConfirmed:  1,
	OrbitBatchChallenged: 2,
	OrbitBatchFinalized:  3,
}

func (s OrbitBatchStatus) Rank() int {
	if r, ok := orbitBatchOrder[s]; ok {
		return r
	}
	return -1
}

// OrbitChainConfig holds the parent-chain contracts of a rollup workspace.
type OrbitChainConfig struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID          int64  `gorm:"column:workspace_id;type:bigint;uniqueIndex;not null" json:"workspace_id"`
	ParentChainID        int64  `gorm:"column:parent_chain_id;type:bigint;not null" json:"parent_chain_id"`
	ParentChainRpcServer string `gorm:"column:parent_chain_rpc_server;type:varchar(512);not null" json:"parent_chain_rpc_server"`
	RollupContract       string `gorm:"column:rollup_contract;type:varchar(42);not null" json:"rollup_contract"`
	BridgeContract       string `gorm:"column:bridge_contract;type:varchar(42);not null" json:"bridge_contract"`
	InboxContract        string `gorm:"column:inbox_contract;type:varchar(42);not null" json:"inbox_contract"`
	SequencerInbox       string `gorm:"column:sequencer_inbox;type:varchar(42);not null" json:"sequencer_inbox"`
	OutboxContract       string `gorm:"column:outbox_contract;type:varchar(42)" json:"outbox_contract"`
	CreatedAt            int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt            int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (OrbitChainConfig) TableName() string {
	return "orbit_chain_configs"
}

// OrbitBatch is a sequencer batch posted to the parent chain.
type OrbitBatch struct {
	ID                     int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID            int64            `gorm:"column:workspace_id;type:bigint;uniqueIndex:uk_orbit_batches_seq,priority:1;not null" json:"workspace_id"`
	BatchSequenceNumber    int64            `gorm:"column:batch_sequence_number;type:bigint;uniqueIndex:uk_orbit_batches_seq,priority:2;not null" json:"batch_sequence_number"`
	ParentChainBlockNumber int64            `gorm:"column:parent_chain_block_number;type:bigint;not null" json:"parent_chain_block_number"`
	ParentChainTxHash      string           `gorm:"column:parent_chain_tx_hash;type:varchar(66);not null" json:"parent_chain_tx_hash"`
	TransactionCount       int              `gorm:"column:transaction_count;type:int;not null;default:0" json:"transaction_count"`
	Status                 OrbitBatchStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	PostedAt               int64            `gorm:"column:posted_at;type:bigint;not null" json:"posted_at"`
	ConfirmedAt            *int64           `gorm:"column:confirmed_at;type:bigint" json:"confirmed_at,omitempty"`
	ChallengedAt           *int64           `gorm:"column:challenged_at;type:bigint" json:"challenged_at,omitempty"`
	FinalizedAt            *int64           `gorm:"column:finalized_at;type:bigint" json:"finalized_at,omitempty"`
	CreatedAt              int64            `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt              int64            `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (OrbitBatch) TableName() string {
	return "orbit_batches"
}

// OrbitTransactionState is the finality record of one transaction. Each stage's
// evidence is written once and never overwritten; rows are never deleted.
type OrbitTransactionState struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkspaceID   int64      `gorm:"column:workspace_id;type:bigint;index;not null" json:"workspace_id"`
	TransactionID int64      `gorm:"column:transaction_id;type:bigint;uniqueIndex;not null" json:"transaction_id"`
	CurrentState  OrbitState `gorm:"column:current_state;type:varchar(20);index;not null" json:"current_state"`
	OrbitBatchID  *int64     `gorm:"column:orbit_batch_id;type:bigint;index" json:"orbit_batch_id,omitempty"`

	SubmittedAt          int64   `gorm:"column:submitted_at;type:bigint;not null" json:"submitted_at"`
	SequencedAt          *int64  `gorm:"column:sequenced_at;type:bigint" json:"sequenced_at,omitempty"`
	SequencedBlockNumber *int64  `gorm:"column:sequenced_block_number;type:bigint" json:"sequenced_block_number,omitempty"`
	PostedAt             *int64  `gorm:"column:posted_at;type:bigint" json:"posted_at,omitempty"`
	PostedTxHash         *string `gorm:"column:posted_tx_hash;type:varchar(66)" json:"posted_tx_hash,omitempty"`
	PostedBlockNumber    *int64  `gorm:"column:posted_block_number;type:bigint" json:"posted_block_number,omitempty"`
	ConfirmedAt          *int64  `gorm:"column:confirmed_at;type:bigint" json:"confirmed_at,omitempty"`
	ConfirmedTxHash      *string `gorm:"column:confirmed_tx_hash;type:varchar(66)" json:"confirmed_tx_hash,omitempty"`
	ConfirmedBlockNumber *int64  `gorm:"column:confirmed_block_number;type:bigint" json:"confirmed_block_number,omitempty"`
	FinalizedAt          *int64  `gorm:"column:finalized_at;type:bigint" json:"finalized_at,omitempty"`
	FinalizedBlockNumber *int64  `gorm:"column:finalized_block_number;type:bigint" json:"finalized_block_number,omitempty"`
	FailedAt             *int64  `gorm:"column:failed_at;type:bigint" json:"failed_at,omitempty"`
	FailureReason        *string `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`

	CreatedAt int64 `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64 `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

func (OrbitTransactionState) TableName() string {
	return "orbit_transaction_states"
}
