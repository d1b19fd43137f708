package service

import (
	"sync"
	"testing"

	"storefront/internal/config"
	"storefront/internal/infrastructure/lock"
	"storefront/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const (
	testAdminEmail    = "admin@storefront.local"
	testAdminPassword = "s3cret"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			AdminEmail:    testAdminEmail,
			AdminPassword: testAdminPassword,
		},
		Payment: config.PaymentConfig{
			PublishableKey: "pk_test",
			HomeCurrency:   "eur",
			Rails: []config.RailConfig{
				{Name: "card", FailureRate: 0.1},
				{Name: "wallet", FailureRate: 0},
			},
		},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	emails []string
}

func (r *recordingNotifier) NotifyVerificationPending(email string) {
	r.mu.Lock()
	r.emails = append(r.emails, email)
	r.mu.Unlock()
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.emails...)
}

func newIdentity(t *testing.T) (*IdentityService, *store.MemoryStore, *recordingNotifier) {
	t.Helper()
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	svc := NewIdentityService(st, lock.NewLocalLocker(), testConfig(), notifier)
	svc.passwordCost = bcrypt.MinCost
	return svc, st, notifier
}

func newPayments(t *testing.T, cfg *config.Config, random func() float64) (*PaymentService, *store.MemoryStore) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	st := store.NewMemoryStore()
	svc := NewPaymentService(st, lock.NewLocalLocker(), cfg)
	if random != nil {
		svc.random = random
	}
	return svc, st
}

func always(v float64) func() float64 {
	return func() float64 { return v }
}
