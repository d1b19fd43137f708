package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@x.com", NormalizeEmail("  A@X.com "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "jane.doe", LocalPart("jane.doe@example.com"))
	assert.Equal(t, "nobody", LocalPart("nobody"))
}

func TestAccount_Complete(t *testing.T) {
	var nilAccount *Account
	assert.False(t, nilAccount.Complete())
	assert.False(t, nilAccount.IsAdmin())

	acc := &Account{ID: "USR1", Email: "a@x.com", Role: RoleUser}
	assert.True(t, acc.Complete())
	assert.False(t, acc.IsAdmin())

	acc.Role = ""
	assert.False(t, acc.Complete())
}

func TestAccount_Public(t *testing.T) {
	acc := Account{ID: "USR1", Email: "a@x.com", Role: RoleUser, PasswordHash: "hash"}
	pub := acc.Public()
	assert.Empty(t, pub.PasswordHash)
	assert.Equal(t, "hash", acc.PasswordHash)
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{IntentStatusRequiresPaymentMethod, IntentStatusSucceeded, true},
		{IntentStatusRequiresPaymentMethod, IntentStatusFailed, true},
		{IntentStatusSucceeded, IntentStatusFailed, false},
		{IntentStatusFailed, IntentStatusSucceeded, false},
		{"unknown", IntentStatusSucceeded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1250), ToMinorUnits(12.5))
	assert.Equal(t, int64(30), ToMinorUnits(0.1+0.2))
	assert.Equal(t, int64(1999), ToMinorUnits(19.99))
	assert.Equal(t, int64(0), ToMinorUnits(0.001))
	assert.Equal(t, int64(MaxAmount*100), ToMinorUnits(MaxAmount))

	// 超出范围的金额不能溢出成正数
	for _, amount := range []float64{MaxAmount + 1, 1e300, math.Inf(1), math.Inf(-1), math.NaN()} {
		assert.Equal(t, int64(0), ToMinorUnits(amount), "%v", amount)
	}
}

func TestTransaction_Succeeded(t *testing.T) {
	assert.True(t, (&Transaction{Status: TransactionStatusSucceeded}).Succeeded())
	assert.False(t, (&Transaction{Status: TransactionStatusFailed}).Succeeded())
}
