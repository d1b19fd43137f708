package repository

import (
	"context"
	"errors"

	"storefront/internal/infrastructure/lock"
	"storefront/internal/model"
	"storefront/internal/store"
)

var (
	ErrAccountExists   = errors.New("账户已存在")
	ErrAccountNotFound = errors.New("账户不存在")
)

// RosterRepository 注册用户名册
// 整个名册存成一个 JSON 数组，写操作在 KeyRoster 锁内完成读-改-写
type RosterRepository struct {
	store  store.Store
	locker lock.Locker
}

func NewRosterRepository(s store.Store, locker lock.Locker) *RosterRepository {
	return &RosterRepository{store: s, locker: locker}
}

// List 按注册顺序返回名册副本，数据损坏时返回空名册
func (r *RosterRepository) List(ctx context.Context) ([]model.Account, error) {
	accounts, corrupt, err := loadList[model.Account](ctx, r.store, KeyRoster)
	if corrupt != nil {
		healList(ctx, r.store, r.locker, KeyRoster, corrupt)
	}
	return accounts, err
}

// FindByEmail 邮箱不区分大小写
func (r *RosterRepository) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	accounts, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexByEmail(accounts, email); i >= 0 {
		return &accounts[i], nil
	}
	return nil, ErrAccountNotFound
}

// Append 追加账户，邮箱重复返回 ErrAccountExists
func (r *RosterRepository) Append(ctx context.Context, account *model.Account) error {
	release, err := r.locker.Acquire(ctx, KeyRoster)
	if err != nil {
		return err
	}
	defer release()

	accounts, _, err := loadList[model.Account](ctx, r.store, KeyRoster)
	if err != nil {
		return err
	}
	if indexByEmail(accounts, account.Email) >= 0 {
		return ErrAccountExists
	}

	accounts = append(accounts, *account)
	return saveJSON(ctx, r.store, KeyRoster, accounts)
}

// Update 按邮箱修改账户，fn 返回 false 表示无需写回
func (r *RosterRepository) Update(ctx context.Context, email string, fn func(*model.Account) bool) error {
	release, err := r.locker.Acquire(ctx, KeyRoster)
	if err != nil {
		return err
	}
	defer release()

	accounts, _, err := loadList[model.Account](ctx, r.store, KeyRoster)
	if err != nil {
		return err
	}
	i := indexByEmail(accounts, email)
	if i < 0 {
		return ErrAccountNotFound
	}
	if !fn(&accounts[i]) {
		return nil
	}
	return saveJSON(ctx, r.store, KeyRoster, accounts)
}

func indexByEmail(accounts []model.Account, email string) int {
	target := model.NormalizeEmail(email)
	for i := range accounts {
		if model.NormalizeEmail(accounts[i].Email) == target {
			return i
		}
	}
	return -1
}
