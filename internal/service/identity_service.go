package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"time"

	"storefront/internal/config"
	"storefront/internal/infrastructure/lock"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/store"
	"storefront/pkg/idgen"

	"golang.org/x/crypto/bcrypt"
)

// VerificationNotifier 通知用户"账户等待验证"，发出即忘，不关心是否送达
type VerificationNotifier interface {
	NotifyVerificationPending(email string)
}

// IdentityService 身份管理
//
// 状态机（每个浏览上下文）：
//
//	未登录 --Login 成功--> 已登录{role} --Logout--> 未登录
//
// Register 只扩充名册，不改变调用方的登录状态；
// 未验证账户在外部把 IsVerified 置为 true 之前无法登录
type IdentityService struct {
	sessionRepo  *repository.SessionRepository
	rosterRepo   *repository.RosterRepository
	notifier     VerificationNotifier
	auth         config.AuthConfig
	passwordCost int
	now          func() time.Time
}

func NewIdentityService(st store.Store, locker lock.Locker, cfg *config.Config, notifier VerificationNotifier) *IdentityService {
	return &IdentityService{
		sessionRepo:  repository.NewSessionRepository(st),
		rosterRepo:   repository.NewRosterRepository(st, locker),
		notifier:     notifier,
		auth:         cfg.Auth,
		passwordCost: bcrypt.DefaultCost,
		now:          time.Now,
	}
}

// RegisterRequest Password 可以为空，为空时登录只校验账户存在且已验证
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// CheckAuth 从存储恢复会话
// 记录损坏时由仓储层清除 key；存储本身出错只记日志，会话保持为空
func (s *IdentityService) CheckAuth(ctx context.Context, sess *Session) bool {
	account, err := s.sessionRepo.Load(ctx, sess.Key())
	if err != nil {
		log.Printf("[IdentityService] 恢复会话失败: key=%s, err=%v", sess.Key(), err)
		sess.clear()
		return false
	}
	if account == nil {
		sess.clear()
		return false
	}
	sess.set(account)
	return true
}

// Login 登录
//
// 【关键点】返回 false 时不区分邮箱不存在、未验证、密码错误
func (s *IdentityService) Login(ctx context.Context, sess *Session, email, password string) (bool, error) {
	if s.isAdminCredential(email, password) {
		admin := &model.Account{
			ID:          model.AdminAccountID,
			Email:       s.auth.AdminEmail,
			DisplayName: "Admin",
			Role:        model.RoleAdmin,
			IsVerified:  true,
			CreatedAt:   s.now(),
		}
		if err := s.install(ctx, sess, admin); err != nil {
			return false, err
		}
		log.Printf("[IdentityService] 管理员登录: key=%s", sess.Key())
		return true, nil
	}

	account, err := s.rosterRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("查询账户失败: %w", err)
	}
	if !account.IsVerified {
		return false, nil
	}
	if account.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
			return false, nil
		}
	}

	if err := s.install(ctx, sess, account); err != nil {
		return false, err
	}
	log.Printf("[IdentityService] 用户登录: id=%s, key=%s", account.ID, sess.Key())
	return true, nil
}

// Register 注册新用户
// 邮箱已存在（包括管理员邮箱）返回 false，名册不变
func (s *IdentityService) Register(ctx context.Context, req RegisterRequest) (bool, error) {
	email := model.NormalizeEmail(req.Email)
	if !validEmail(email) {
		return false, nil
	}
	if s.auth.AdminEmail != "" && email == model.NormalizeEmail(s.auth.AdminEmail) {
		return false, nil
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = model.LocalPart(email)
	}

	account := &model.Account{
		ID:          idgen.GenerateAccountID(),
		Email:       email,
		DisplayName: displayName,
		Role:        model.RoleUser,
		IsVerified:  false,
		CreatedAt:   s.now(),
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.passwordCost)
		if err != nil {
			return false, fmt.Errorf("生成密码哈希失败: %w", err)
		}
		account.PasswordHash = string(hash)
	}

	if err := s.rosterRepo.Append(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			return false, nil
		}
		return false, fmt.Errorf("保存名册失败: %w", err)
	}

	log.Printf("[IdentityService] 注册成功，等待验证: id=%s, email=%s", account.ID, account.Email)
	if s.notifier != nil {
		s.notifier.NotifyVerificationPending(account.Email)
	}
	return true, nil
}

// Logout 幂等，未登录时调用也不报错
func (s *IdentityService) Logout(ctx context.Context, sess *Session) error {
	sess.clear()
	if err := s.sessionRepo.Delete(ctx, sess.Key()); err != nil {
		return fmt.Errorf("清除会话失败: %w", err)
	}
	return nil
}

// IsAdmin 当前会话是否为管理员
func (s *IdentityService) IsAdmin(sess *Session) bool {
	return sess.IsAdmin()
}

// MarkVerified 外部验证流程的回调，把名册中的账户标记为已验证
// 邮箱不存在返回 false
func (s *IdentityService) MarkVerified(ctx context.Context, email string) (bool, error) {
	err := s.rosterRepo.Update(ctx, email, func(a *model.Account) bool {
		if a.IsVerified {
			return false
		}
		a.IsVerified = true
		return true
	})
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("更新名册失败: %w", err)
	}
	log.Printf("[IdentityService] 账户已验证: email=%s", model.NormalizeEmail(email))
	return true, nil
}

// Roster 名册副本，密码哈希已去除
func (s *IdentityService) Roster(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.rosterRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i] = accounts[i].Public()
	}
	return accounts, nil
}

func (s *IdentityService) install(ctx context.Context, sess *Session, account *model.Account) error {
	if err := s.sessionRepo.Save(ctx, sess.Key(), account); err != nil {
		return fmt.Errorf("保存会话失败: %w", err)
	}
	public := account.Public()
	sess.set(&public)
	return nil
}

// isAdminCredential 两个字段都精确匹配；未配置管理员时永远不匹配
func (s *IdentityService) isAdminCredential(email, password string) bool {
	if s.auth.AdminEmail == "" || s.auth.AdminPassword == "" {
		return false
	}
	return email == s.auth.AdminEmail && password == s.auth.AdminPassword
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
