package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
)

// Fact is a primary row that has an analytics mirror.
type Fact interface {
	fact()
}

type TransactionFact struct {
	Transaction *model.Transaction
	GasUsed     decimal.Decimal
}

type TokenTransferFact struct {
	Transfer *model.TokenTransfer
}

type BalanceChangeFact struct {
	Change *model.TokenBalanceChange
}

func (TransactionFact) fact()   {}
func (TokenTransferFact) fact() {}
func (BalanceChangeFact) fact() {}

// AnalyticsProjector writes event mirrors inside the ingestion unit. A failed
// projection fails the unit; rollups are recomputed separately by a job.
type AnalyticsProjector struct {
	events repository.EventRepository
}

func NewAnalyticsProjector(events repository.EventRepository) *AnalyticsProjector {
	return &AnalyticsProjector{events: events}
}

func (p *AnalyticsProjector) Project(ctx context.Context, f Fact) error {
	if !repository.InTransaction(ctx) {
		return ErrNoUnitOfWork
	}

	switch f := f.(type) {
	case TransactionFact:
		tx := f.Transaction
		return p.events.CreateTransactionEvent(ctx, &model.TransactionEvent{
			WorkspaceID:   tx.WorkspaceID,
			Timestamp:     tx.Timestamp,
			TransactionID: tx.ID,
			BlockNumber:   tx.BlockNumber,
			From:          tx.From,
			To:            tx.To,
			Value:         tx.Value,
			GasPrice:      tx.GasPrice,
			GasUsed:       f.GasUsed,
		})
	case TokenTransferFact:
		t := f.Transfer
		return p.events.CreateTokenTransferEvent(ctx, &model.TokenTransferEvent{
			WorkspaceID:     t.WorkspaceID,
			Timestamp:       t.Timestamp,
			TokenTransferID: t.ID,
			Token:           t.Token,
			Src:             t.Src,
			Dst:             t.Dst,
			Amount:          t.Amount,
			Standard:        t.Standard,
		})
	case BalanceChangeFact:
		c := f.Change
		return p.events.CreateTokenBalanceChangeEvent(ctx, &model.TokenBalanceChangeEvent{
			WorkspaceID:          c.WorkspaceID,
			Timestamp:            c.Timestamp,
			TokenBalanceChangeID: c.ID,
			Token:                c.Token,
			Address:              c.Address,
			CurrentBalance:       c.CurrentBalance,
			Diff:                 c.Diff,
		})
	default:
		return fmt.Errorf("unsupported fact %T", f)
	}
}
