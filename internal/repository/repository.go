package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrForeignKeyViolation = "23503"
	pgErrUniqueViolation     = "23505"

	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"

	pgErrConnectionException  = "08000"
	pgErrSQLClientCantConnect = "08001"
	pgErrConnectionFailure    = "08006"

	pgErrInsufficientResources = "53000"
	pgErrTooManyConnections    = "53300"

	pgErrQueryCanceled    = "57014"
	pgErrCannotConnectNow = "57P03"
)

// TxManager runs fn inside one storage transaction carried by ctx.
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type txKey struct{}

// DB returns the transaction bound to ctx, if any, else the pool.
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// InTransaction reports whether ctx carries a transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// Transaction runs fn in a transaction. A ctx that already carries one joins it,
// so the outer caller decides commit or rollback.
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TransactionWithRetry retries serialization failures, deadlocks and transient
// connection errors with exponential backoff.
func (r *Repository) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.Transaction(ctx, fn)
		if err == nil || !IsRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * 100 * time.Millisecond):
		}
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsRetryableError reports transient database failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode(err) {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException, pgErrSQLClientCantConnect,
		pgErrInsufficientResources, pgErrTooManyConnections,
		pgErrQueryCanceled, pgErrCannotConnectNow:
		return true
	}
	return false
}

// IsDuplicateKeyError 唯一约束冲突
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || pgCode(err) == pgErrUniqueViolation
}

// IsForeignKeyViolation reports a missing parent row, e.g. a transaction whose block
// is not committed yet.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrForeignKeyViolated) || pgCode(err) == pgErrForeignKeyViolation
}

// QueryOptions 查询选项
type QueryOptions struct {
	ForUpdate bool
	NoWait    bool
}

// ApplyLock adds FOR UPDATE when requested. SQLite silently drops the clause.
func (o *QueryOptions) ApplyLock(db *gorm.DB) *gorm.DB {
	if o == nil || !o.ForUpdate {
		return db
	}
	if o.NoWait {
		return db.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

var forUpdate = &QueryOptions{ForUpdate: true}

// insertIgnore inserts value unless a unique constraint already holds an equal key.
// It reports whether a row was written.
func insertIgnore(db *gorm.DB, value interface{}) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TimeRange is a half-open [Start, End) interval in ms.
type TimeRange struct {
	Start int64
	End   int64
}

func (tr *TimeRange) IsValid() bool {
	return tr != nil && tr.Start > 0 && tr.End > 0 && tr.Start <= tr.End
}
