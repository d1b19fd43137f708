package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"storefront/internal/model"
	"storefront/internal/store"
)

// SessionRepository 当前登录账户的持久化
// 每个浏览上下文一个 key，默认 current-session，带ID时为 current-session:<id>
type SessionRepository struct {
	store store.Store
}

func NewSessionRepository(s store.Store) *SessionRepository {
	return &SessionRepository{store: s}
}

// SessionKey 浏览上下文对应的持久化 key
func SessionKey(contextID string) string {
	if contextID == "" {
		return KeySession
	}
	return KeySession + ":" + contextID
}

// Load 读取会话
// 不存在返回 nil；记录无法解析或缺少 id/email/role 时删除 key 并返回 nil
func (r *SessionRepository) Load(ctx context.Context, key string) (*model.Account, error) {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取会话失败: %w", err)
	}

	var account model.Account
	if err := json.Unmarshal(raw, &account); err != nil || !account.Complete() {
		log.Printf("[SessionRepository] 会话记录损坏，已清除: key=%s, err=%v", key, err)
		if rmErr := r.store.Remove(ctx, key); rmErr != nil {
			return nil, fmt.Errorf("清除损坏会话失败: %w", rmErr)
		}
		return nil, nil
	}
	return &account, nil
}

// Save 持久化会话，密码哈希不落到会话记录里
func (r *SessionRepository) Save(ctx context.Context, key string, account *model.Account) error {
	public := account.Public()
	return saveJSON(ctx, r.store, key, &public)
}

func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	return r.store.Remove(ctx, key)
}
