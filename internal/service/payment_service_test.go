package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/model"
	"storefront/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePaymentIntent(t *testing.T) {
	svc, _ := newPayments(t, nil, nil)
	ctx := context.Background()

	intent, err := svc.CreatePaymentIntent(ctx, 50, "eur")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), intent.Amount)
	assert.Equal(t, "eur", intent.Currency)
	assert.Equal(t, model.IntentStatusRequiresPaymentMethod, intent.Status)
	assert.True(t, strings.HasPrefix(intent.ClientSecret, intent.ID+"_secret_"))

	t.Run("each call mints a new intent", func(t *testing.T) {
		other, err := svc.CreatePaymentIntent(ctx, 50, "eur")
		require.NoError(t, err)
		assert.NotEqual(t, intent.ID, other.ID)
		assert.NotEqual(t, intent.ClientSecret, other.ClientSecret)
	})

	t.Run("defaults to home currency and rounds", func(t *testing.T) {
		in, err := svc.CreatePaymentIntent(ctx, 19.99, "")
		require.NoError(t, err)
		assert.Equal(t, int64(1999), in.Amount)
		assert.Equal(t, "eur", in.Currency)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := svc.CreatePaymentIntent(ctx, 0, "eur")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = svc.CreatePaymentIntent(ctx, -3, "eur")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestCreatePaymentIntent_LatencyRespectsContext(t *testing.T) {
	svc, _ := newPayments(t, nil, nil)
	svc.intentLatency = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.CreatePaymentIntent(ctx, 10, "eur")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessPayment_Success(t *testing.T) {
	svc, _ := newPayments(t, nil, always(0.5))
	ctx := context.Background()

	res, err := svc.ProcessPayment(ctx, model.RailCard, "pm_card_visa", 50, "EUR")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.TransactionID)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.PaymentData)
	assert.Equal(t, int64(5000), res.PaymentData.Amount)

	history, err := svc.GetTransactionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.TransactionID, history[0].ID)
	assert.Equal(t, int64(5000), history[0].Amount)
	assert.Equal(t, "eur", history[0].Currency)
	assert.Equal(t, "pm_card_visa", history[0].PaymentMethodRef)
	assert.Equal(t, model.TransactionStatusSucceeded, history[0].Status)
	assert.Equal(t, model.RailCard, history[0].Kind)
}

func TestProcessPayment_Declined(t *testing.T) {
	ctx := context.Background()

	t.Run("not recorded by default", func(t *testing.T) {
		svc, _ := newPayments(t, nil, always(0.05))

		res, err := svc.ProcessPayment(ctx, model.RailCard, "pm", 50, "eur")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, DeclinedError, res.Error)
		assert.Empty(t, res.TransactionID)

		history, err := svc.GetTransactionHistory(ctx)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("recorded for audit when enabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Payment.RecordDeclines = true
		svc, _ := newPayments(t, cfg, always(0.05))

		res, err := svc.ProcessPayment(ctx, model.RailCard, "pm", 50, "eur")
		require.NoError(t, err)
		assert.False(t, res.Success)

		history, err := svc.GetTransactionHistory(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.TransactionStatusFailed, history[0].Status)

		stats, err := svc.GetPaymentStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalTransactions)
		assert.Equal(t, 0, stats.SuccessfulTransactions)
		assert.Zero(t, stats.SuccessRate)
	})
}

func TestProcessPayment_WalletAlwaysSucceeds(t *testing.T) {
	svc, _ := newPayments(t, nil, always(0))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := svc.ProcessPayment(ctx, model.RailWallet, "wallet_ref", 12.5, "eur")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, model.RailWallet, res.PaymentData.Rail)
	}

	history, err := svc.GetTransactionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, model.RailWallet, history[0].Kind)
}

func TestProcessPayment_Errors(t *testing.T) {
	svc, _ := newPayments(t, nil, always(0.5))
	ctx := context.Background()

	_, err := svc.ProcessPayment(ctx, "crypto", "pm", 10, "eur")
	assert.ErrorIs(t, err, ErrUnknownRail)

	_, err = svc.ProcessPayment(ctx, model.RailCard, "pm", 0, "eur")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// 超出上限的金额直接拒绝，不会溢出后被当作正数记账
	_, err = svc.ProcessPayment(ctx, model.RailCard, "pm", model.MaxAmount+1, "eur")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.CreatePaymentIntent(ctx, 1e300, "eur")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	t.Run("canceled during latency writes nothing", func(t *testing.T) {
		svc.rails[model.RailCard] = Rail{Name: model.RailCard, Latency: time.Hour, FailureRate: 0.1}
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := svc.ProcessPayment(cctx, model.RailCard, "pm", 10, "eur")
		assert.ErrorIs(t, err, context.Canceled)

		history, err := svc.GetTransactionHistory(ctx)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestAppendLedger_IgnoresCallerCancellation(t *testing.T) {
	svc, _ := newPayments(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.appendLedger(ctx, &model.Transaction{ID: "TXN1", Amount: 100}))

	history, err := svc.GetTransactionHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedger_AppendOnly(t *testing.T) {
	svc, _ := newPayments(t, nil, always(0.5))
	ctx := context.Background()

	snapshot := []model.Transaction{}
	for i := 1; i <= 5; i++ {
		res, err := svc.ProcessPayment(ctx, model.RailCard, fmt.Sprintf("pm_%d", i), float64(i), "eur")
		require.NoError(t, err)
		require.True(t, res.Success)

		history, err := svc.GetTransactionHistory(ctx)
		require.NoError(t, err)
		require.Len(t, history, i)
		// 之前的流水不变
		assert.Equal(t, snapshot, history[:len(snapshot)])
		assert.Equal(t, res.TransactionID, history[i-1].ID)
		snapshot = history
	}
}

func TestLedger_ConcurrentPaymentsLoseNothing(t *testing.T) {
	svc, _ := newPayments(t, nil, always(0.5))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ProcessPayment(ctx, model.RailCard, "pm", 1, "eur")
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()

	history, err := svc.GetTransactionHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 40)

	seen := make(map[string]bool)
	for _, tx := range history {
		assert.False(t, seen[tx.ID], "duplicate id %s", tx.ID)
		seen[tx.ID] = true
	}
}

func TestGetTransactionHistory_CorruptedLedger(t *testing.T) {
	svc, st := newPayments(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, repository.KeyLedger, []byte("not json")))

	history, err := svc.GetTransactionHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetPaymentStats(t *testing.T) {
	svc, _ := newPayments(t, nil, always(0.5))
	ctx := context.Background()

	stats, err := svc.GetPaymentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)

	for _, amount := range []float64{10, 20.5, 0.99} {
		_, err := svc.ProcessPayment(ctx, model.RailCard, "pm", amount, "eur")
		require.NoError(t, err)
	}

	history, err := svc.GetTransactionHistory(ctx)
	require.NoError(t, err)
	var sum int64
	for _, tx := range history {
		sum += tx.Amount
	}

	stats, err = svc.GetPaymentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTransactions)
	assert.Equal(t, 3, stats.SuccessfulTransactions)
	assert.Equal(t, sum, stats.TotalAmount)
	assert.Equal(t, int64(3149), stats.TotalAmount)
	assert.InDelta(t, 100.0, stats.SuccessRate, 1e-9)
}

func TestProcessPayment_SuccessRatioConverges(t *testing.T) {
	src := rand.New(rand.NewSource(42))
	svc, _ := newPayments(t, nil, src.Float64)
	ctx := context.Background()

	const calls = 400
	successes := 0
	for i := 0; i < calls; i++ {
		res, err := svc.ProcessPayment(ctx, model.RailCard, "pm", 50, "eur")
		require.NoError(t, err)
		if res.Success {
			successes++
		}
	}

	ratio := float64(successes) / calls
	assert.InDelta(t, 0.9, ratio, 0.06)

	stats, err := svc.GetPaymentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, successes, stats.TotalTransactions)
}

func TestConfirmPaymentIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("success resolves intent", func(t *testing.T) {
		svc, _ := newPayments(t, nil, always(0.5))
		intent, err := svc.CreatePaymentIntent(ctx, 50, "eur")
		require.NoError(t, err)

		res, err := svc.ConfirmPaymentIntent(ctx, intent.ClientSecret, "pm_card_visa")
		require.NoError(t, err)
		require.True(t, res.Success)

		got, err := svc.GetPaymentIntent(intent.ID)
		require.NoError(t, err)
		assert.Equal(t, model.IntentStatusSucceeded, got.Status)
		assert.Equal(t, res.TransactionID, got.TransactionID)

		history, err := svc.GetTransactionHistory(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, int64(5000), history[0].Amount)

		_, err = svc.ConfirmPaymentIntent(ctx, intent.ClientSecret, "pm_card_visa")
		assert.ErrorIs(t, err, ErrIntentResolved)
	})

	t.Run("decline marks intent failed", func(t *testing.T) {
		svc, _ := newPayments(t, nil, always(0.01))
		intent, err := svc.CreatePaymentIntent(ctx, 50, "eur")
		require.NoError(t, err)

		res, err := svc.ConfirmPaymentIntent(ctx, intent.ClientSecret, "pm")
		require.NoError(t, err)
		assert.False(t, res.Success)

		got, err := svc.GetPaymentIntent(intent.ID)
		require.NoError(t, err)
		assert.Equal(t, model.IntentStatusFailed, got.Status)
	})

	t.Run("unknown secret", func(t *testing.T) {
		svc, _ := newPayments(t, nil, nil)
		_, err := svc.ConfirmPaymentIntent(ctx, "pi_x_secret_y", "pm")
		assert.ErrorIs(t, err, ErrIntentNotFound)
		_, err = svc.GetPaymentIntent("pi_x")
		assert.ErrorIs(t, err, ErrIntentNotFound)
	})
}

func TestSweepExpiredIntents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPayments(t, nil, always(0.5))

	base := time.Now()
	svc.now = func() time.Time { return base.Add(-time.Hour) }
	stale, err := svc.CreatePaymentIntent(ctx, 10, "eur")
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	fresh, err := svc.CreatePaymentIntent(ctx, 10, "eur")
	require.NoError(t, err)

	assert.Equal(t, 1, svc.SweepExpiredIntents(ctx, 30*time.Minute))

	got, err := svc.GetPaymentIntent(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusFailed, got.Status)

	got, err = svc.GetPaymentIntent(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntentStatusRequiresPaymentMethod, got.Status)

	_, err = svc.ConfirmPaymentIntent(ctx, stale.ClientSecret, "pm")
	assert.ErrorIs(t, err, ErrIntentResolved)

	t.Run("resolved intents are pruned on the next sweep", func(t *testing.T) {
		assert.Equal(t, 0, svc.SweepExpiredIntents(ctx, 30*time.Minute))
		_, err := svc.GetPaymentIntent(stale.ID)
		assert.ErrorIs(t, err, ErrIntentNotFound)
	})
}
