package model

import (
	"time"
)

// KVEntry MySQL 存储后端的 KV 表
type KVEntry struct {
	Key       string    `gorm:"column:k;type:varchar(128);primaryKey" json:"key"`
	Value     []byte    `gorm:"column:v;type:longblob;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KVEntry) TableName() string {
	return "kv_entry"
}
