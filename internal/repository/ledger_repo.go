package repository

import (
	"context"

	"storefront/internal/infrastructure/lock"
	"storefront/internal/model"
	"storefront/internal/store"
)

// LedgerRepository 支付流水
//
// 【重要】只提供追加和读取，没有修改和删除
// 追加在 KeyLedger 锁内完成，两个支付同时完成也不会丢流水
type LedgerRepository struct {
	store  store.Store
	locker lock.Locker
}

func NewLedgerRepository(s store.Store, locker lock.Locker) *LedgerRepository {
	return &LedgerRepository{store: s, locker: locker}
}

// List 按插入顺序返回全部流水，数据损坏时返回空
func (r *LedgerRepository) List(ctx context.Context) ([]model.Transaction, error) {
	transactions, corrupt, err := loadList[model.Transaction](ctx, r.store, KeyLedger)
	if corrupt != nil {
		healList(ctx, r.store, r.locker, KeyLedger, corrupt)
	}
	return transactions, err
}

func (r *LedgerRepository) Append(ctx context.Context, trans *model.Transaction) error {
	release, err := r.locker.Acquire(ctx, KeyLedger)
	if err != nil {
		return err
	}
	defer release()

	// 已持有锁，损坏数据直接被新的数组覆盖
	transactions, _, err := loadList[model.Transaction](ctx, r.store, KeyLedger)
	if err != nil {
		return err
	}
	transactions = append(transactions, *trans)
	return saveJSON(ctx, r.store, KeyLedger, transactions)
}
