package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"storefront/internal/infrastructure/lock"
	"storefront/internal/store"
)

// 持久化 key（稳定名称，改名会导致老数据丢失）
const (
	KeySession = "current-session"
	KeyRoster  = "registered-users"
	KeyLedger  = "payment-ledger"
)

// loadList 读取 JSON 数组
// 值不存在返回空切片；值损坏时返回空切片和损坏的原始字节，不在这里删除 key
func loadList[T any](ctx context.Context, s store.Store, key string) ([]T, []byte, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []T{}, nil, nil
		}
		return nil, nil, fmt.Errorf("读取 %s 失败: %w", key, err)
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		log.Printf("[Repository] %s 数据损坏: err=%v", key, err)
		return []T{}, raw, nil
	}
	return items, nil, nil
}

// healList 清除损坏的集合
//
// 【关键点】读路径不持锁，读到损坏数据后可能已经有写者把 key 修好了，
// 所以要在集合锁内重新读一次，仍然是同一份损坏数据才删除
func healList(ctx context.Context, s store.Store, locker lock.Locker, key string, corrupt []byte) {
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		log.Printf("[Repository] 清除 %s 时获取锁失败: %v", key, err)
		return
	}
	defer release()

	current, err := s.Get(ctx, key)
	if err != nil || !bytes.Equal(current, corrupt) {
		return
	}
	if err := s.Remove(ctx, key); err != nil {
		log.Printf("[Repository] 清除 %s 失败: %v", key, err)
		return
	}
	log.Printf("[Repository] %s 数据损坏，已清除", key)
}

func saveJSON(ctx context.Context, s store.Store, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", key, err)
	}
	if err := s.Set(ctx, key, payload); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	return nil
}
