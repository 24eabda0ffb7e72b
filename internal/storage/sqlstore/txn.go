package sqlstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/tidemail/store/internal/mailstore"
)

type txCtxKey struct{}

// gormTransactor is the one backend in this tree with a real transaction
// boundary to offer: every other adapter hands back mailstore.NoopTransactor
// because its storage has no equivalent to a SQL transaction to open.
type gormTransactor struct {
	db *gorm.DB
}

func (t *gormTransactor) Execute(ctx context.Context, work func(ctx context.Context) error) error {
	if mailstore.InTransaction(ctx) {
		return work(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return work(mailstore.WithTransaction(context.WithValue(ctx, txCtxKey{}, tx)))
	})
}

// dbFrom returns the transaction opened by an enclosing Execute call, or
// fallback when no transaction is open on ctx.
func dbFrom(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
