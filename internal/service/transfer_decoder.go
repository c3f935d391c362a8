package service

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/tryethernal/ethernal-sub004/internal/model"
)

const (
	StandardNative  = "native"
	StandardERC20   = "erc20"
	StandardERC721  = "erc721"
	StandardERC1155 = "erc1155"
)

var (
	transferTopic       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	transferSingleTopic = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))
	transferBatchTopic  = crypto.Keccak256Hash([]byte("TransferBatch(address,address,address,uint256[],uint256[])"))

	zeroAddress = common.Address{}.Hex()

	batchArgs = mustBatchArgs()
)

func mustBatchArgs() abi.Arguments {
	uints, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "ids", Type: uints}, {Name: "values", Type: uints}}
}

// decodedTransfer is a token movement found in a log or in the transaction value.
type decodedTransfer struct {
	LogIndex int
	Token    string
	TokenID  string
	Src      string
	Dst      string
	Amount   decimal.Decimal
	Standard string
}

// decodeTransfers extracts token movements from a successful transaction. Logs that
// do not match a known event shape are ignored.
func decodeTransfers(tx *model.Transaction, logs []*model.TransactionLog) []decodedTransfer {
	var out []decodedTransfer

	if tx.To != nil && tx.Value.IsPositive() {
		out = append(out, decodedTransfer{
			LogIndex: model.NativeLogIndex,
			Token:    model.NativeTokenAddress,
			Src:      tx.From,
			Dst:      *tx.To,
			Amount:   tx.Value,
			Standard: StandardNative,
		})
	}

	for _, l := range logs {
		out = append(out, decodeLog(l)...)
	}
	return out
}

func decodeLog(l *model.TransactionLog) []decodedTransfer {
	if len(l.Topics) == 0 {
		return nil
	}
	data, err := hexutil.Decode(orEmptyHex(l.Data))
	if err != nil {
		return nil
	}
	topic0 := common.HexToHash(l.Topics[0])
	token := normalizeAddress(l.Address)

	switch {
	case topic0 == transferTopic && len(l.Topics) == 3 && len(data) == 32:
		return []decodedTransfer{{
			LogIndex: l.LogIndex,
			Token:    token,
			Src:      topicAddress(l.Topics[1]),
			Dst:      topicAddress(l.Topics[2]),
			Amount:   decimal.NewFromBigInt(new(big.Int).SetBytes(data), 0),
			Standard: StandardERC20,
		}}

	case topic0 == transferTopic && len(l.Topics) == 4:
		return []decodedTransfer{{
			LogIndex: l.LogIndex,
			Token:    token,
			TokenID:  common.HexToHash(l.Topics[3]).Big().String(),
			Src:      topicAddress(l.Topics[1]),
			Dst:      topicAddress(l.Topics[2]),
			Amount:   decimal.NewFromInt(1),
			Standard: StandardERC721,
		}}

	case topic0 == transferSingleTopic && len(l.Topics) == 4 && len(data) == 64:
		return []decodedTransfer{{
			LogIndex: l.LogIndex,
			Token:    token,
			TokenID:  new(big.Int).SetBytes(data[:32]).String(),
			Src:      topicAddress(l.Topics[2]),
			Dst:      topicAddress(l.Topics[3]),
			Amount:   decimal.NewFromBigInt(new(big.Int).SetBytes(data[32:]), 0),
			Standard: StandardERC1155,
		}}

	case topic0 == transferBatchTopic && len(l.Topics) == 4:
		values, err := batchArgs.Unpack(data)
		if err != nil || len(values) != 2 {
			return nil
		}
		ids, ok1 := values[0].([]*big.Int)
		amounts, ok2 := values[1].([]*big.Int)
		if !ok1 || !ok2 || len(ids) != len(amounts) {
			return nil
		}

		// one row per id keeps the natural key unique when an id repeats
		sums := make(map[string]*big.Int, len(ids))
		order := make([]string, 0, len(ids))
		for i, id := range ids {
			k := id.String()
			if _, seen := sums[k]; !seen {
				sums[k] = new(big.Int)
				order = append(order, k)
			}
			sums[k].Add(sums[k], amounts[i])
		}
		src, dst := topicAddress(l.Topics[2]), topicAddress(l.Topics[3])
		out := make([]decodedTransfer, 0, len(order))
		for _, id := range order {
			out = append(out, decodedTransfer{
				LogIndex: l.LogIndex,
				Token:    token,
				TokenID:  id,
				Src:      src,
				Dst:      dst,
				Amount:   decimal.NewFromBigInt(sums[id], 0),
				Standard: StandardERC1155,
			})
		}
		return out
	}
	return nil
}

func topicAddress(topic string) string {
	return normalizeAddress(common.BytesToAddress(common.HexToHash(topic).Bytes()).Hex())
}

func orEmptyHex(s string) string {
	if s == "" {
		return "0x"
	}
	return s
}

// balanceDelta is the net effect of one transaction on a holder of a fungible token.
type balanceDelta struct {
	Token   string
	Address string
	Diff    decimal.Decimal
}

// netBalanceDeltas sums native and erc20 movements per (token, address). The zero address
// (mint and burn counterparty) and zero net changes are skipped. Output order is
// stable so concurrent units lock rows in the same order.
func netBalanceDeltas(transfers []decodedTransfer) []balanceDelta {
	type key struct{ token, address string }
	sums := make(map[key]decimal.Decimal)
	for _, t := range transfers {
		if t.Standard != StandardERC20 && t.Standard != StandardNative {
			continue
		}
		src, dst := key{t.Token, t.Src}, key{t.Token, t.Dst}
		sums[src] = sums[src].Sub(t.Amount)
		sums[dst] = sums[dst].Add(t.Amount)
	}

	out := make([]balanceDelta, 0, len(sums))
	for k, diff := range sums {
		if k.address == normalizeAddress(zeroAddress) || diff.IsZero() {
			continue
		}
		out = append(out, balanceDelta{Token: k.token, Address: k.address, Diff: diff})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Address < out[j].Address
	})
	return out
}
