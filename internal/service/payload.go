package service

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Payloads as produced by the chain sync worker. Quantities may be decimal strings
// or 0x-prefixed hex; the block timestamp is in seconds.

type BlockPayload struct {
	Number        int64                  `json:"number"`
	Hash          string                 `json:"hash"`
	ParentHash    string                 `json:"parentHash"`
	Miner         string                 `json:"miner"`
	Timestamp     int64                  `json:"timestamp"`
	GasLimit      string                 `json:"gasLimit"`
	GasUsed       string                 `json:"gasUsed"`
	BaseFeePerGas string                 `json:"baseFeePerGas"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

type TransactionPayload struct {
	Hash             string                 `json:"hash"`
	BlockNumber      int64                  `json:"blockNumber"`
	BlockHash        string                 `json:"blockHash"`
	TransactionIndex int                    `json:"transactionIndex"`
	From             string                 `json:"from"`
	To               *string                `json:"to"`
	Value            string                 `json:"value"`
	Nonce            int64                  `json:"nonce"`
	GasPrice         string                 `json:"gasPrice"`
	GasLimit         string                 `json:"gas"`
	Input            string                 `json:"input"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

type ReceiptPayload struct {
	TransactionHash   string       `json:"transactionHash"`
	Status            int          `json:"status"`
	GasUsed           string       `json:"gasUsed"`
	CumulativeGasUsed string       `json:"cumulativeGasUsed"`
	EffectiveGasPrice string       `json:"effectiveGasPrice"`
	ContractAddress   *string      `json:"contractAddress"`
	Logs              []LogPayload `json:"logs"`
}

type LogPayload struct {
	LogIndex int      `json:"logIndex"`
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
}

// IngestBlockRequest is one block's worth of chain data for a workspace.
type IngestBlockRequest struct {
	WorkspaceID  int64                `json:"workspaceId"`
	Block        BlockPayload         `json:"block"`
	Transactions []TransactionPayload `json:"transactions"`
	Receipts     []ReceiptPayload     `json:"receipts"`
}

// IngestTransactionsRequest carries transactions of a block that is already stored.
type IngestTransactionsRequest struct {
	WorkspaceID  int64                `json:"workspaceId"`
	BlockNumber  int64                `json:"blockNumber"`
	Transactions []TransactionPayload `json:"transactions"`
	Receipts     []ReceiptPayload     `json:"receipts"`
}

func isHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func normalizeAddress(s string) string {
	return strings.ToLower(s)
}

// parseQuantity accepts "", decimal and 0x-hex strings.
func parseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return decimal.Zero, nil
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		digits := s[2:]
		if strings.HasPrefix(digits, "-") || strings.HasPrefix(digits, "+") {
			return decimal.Zero, validationErr("invalid hex quantity %q", s)
		}
		n, ok := new(big.Int).SetString(digits, 16)
		if !ok {
			return decimal.Zero, validationErr("invalid hex quantity %q", s)
		}
		return decimal.NewFromBigInt(n, 0), nil
	default:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, validationErr("invalid quantity %q", s)
		}
		if d.IsNegative() || !d.Equal(d.Truncate(0)) {
			return decimal.Zero, validationErr("quantity %q must be a non-negative integer", s)
		}
		return d, nil
	}
}
