package service

import (
	"sync"

	"storefront/internal/model"
	"storefront/internal/repository"
)

// Session 一个浏览上下文的登录状态
//
// 显式传给 IdentityService 的各个方法，而不是放在全局变量里，
// 这样多个上下文（以及并行的测试）互不干扰
type Session struct {
	key string

	mu      sync.RWMutex
	account *model.Account
}

// NewSession contextID 为空时使用默认 key current-session
func NewSession(contextID string) *Session {
	return &Session{key: repository.SessionKey(contextID)}
}

// Key 持久化用的 key
func (s *Session) Key() string {
	return s.key
}

// Account 返回当前账户副本，未登录返回 nil
func (s *Session) Account() *model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return nil
	}
	a := *s.account
	return &a
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account != nil
}

func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account.IsAdmin()
}

func (s *Session) set(account *model.Account) {
	s.mu.Lock()
	s.account = account
	s.mu.Unlock()
}

func (s *Session) clear() {
	s.set(nil)
}
