package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// AdminAccountID 管理员伪账户的固定ID，管理员不进入注册名册
const AdminAccountID = "admin"

// Account 用户身份
// 注册用户保存在名册（registered-users）中，管理员只在登录成功时临时生成
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         Role      `json:"role"`
	IsVerified   bool      `json:"is_verified"`
	PasswordHash string    `json:"password_hash,omitempty"` // bcrypt，老数据可能为空
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin 是否为管理员
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// Complete 会话记录至少要有 id、email、role，否则视为损坏
func (a *Account) Complete() bool {
	return a != nil && a.ID != "" && a.Email != "" && a.Role != ""
}

// Public 去掉密码哈希，用于对外返回
func (a Account) Public() Account {
	a.PasswordHash = ""
	return a
}

// NormalizeEmail 邮箱比较统一做 trim + 小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LocalPart 邮箱 @ 前面的部分，作为默认昵称
func LocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
