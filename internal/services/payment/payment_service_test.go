package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bookshell/bookshell-backend/internal/models"
	"github.com/bookshell/bookshell-backend/internal/services/gateway"
	"github.com/bookshell/bookshell-backend/internal/services/wallet"
)

type stubGateway struct {
	collectResult  gateway.Result
	disburseResult gateway.Result
	statusResult   gateway.StatusResult

	collectCalls  int
	disburseCalls int
	statusCalls   int
}

func (g *stubGateway) RequestCollection(req gateway.PaymentRequest) gateway.Result {
	g.collectCalls++
	return g.collectResult
}

func (g *stubGateway) RequestDisbursement(req gateway.PaymentRequest) gateway.Result {
	g.disburseCalls++
	return g.disburseResult
}

func (g *stubGateway) GetStatus(referenceID string) gateway.StatusResult {
	g.statusCalls++
	return g.statusResult
}

type stubNotifier struct {
	titles []string
}

func (n *stubNotifier) Notify(userID uuid.UUID, title, body string) {
	n.titles = append(n.titles, title)
}

type fixture struct {
	db       *gorm.DB
	svc      *PaymentService
	gw       *stubGateway
	notifier *stubNotifier
}

func setup(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Wallet{}, &models.Transaction{}, &models.Notification{}))

	gw := &stubGateway{
		collectResult:  gateway.Result{Success: true, ReferenceID: "R1", Status: "PENDING"},
		disburseResult: gateway.Result{Success: true, ReferenceID: "R1", Status: "PENDING"},
	}
	notifier := &stubNotifier{}

	svc := NewPaymentService(db, wallet.NewWalletService(db),
		map[models.PaymentProvider]gateway.Gateway{
			models.ProviderMTNMomo:   gw,
			models.ProviderMoovMoney: gw,
		}, notifier)

	return &fixture{db: db, svc: svc, gw: gw, notifier: notifier}
}

func (f *fixture) createWallet(t *testing.T, balance int64) *models.Wallet {
	t.Helper()
	w := &models.Wallet{UserID: uuid.New(), Balance: balance, Currency: "XOF"}
	require.NoError(t, f.db.Create(w).Error)
	return w
}

func (f *fixture) balance(t *testing.T, walletID uuid.UUID) int64 {
	t.Helper()
	var w models.Wallet
	require.NoError(t, f.db.First(&w, "id = ?", walletID).Error)
	return w.Balance
}

func (f *fixture) transaction(t *testing.T, id string) *models.Transaction {
	t.Helper()
	var trx models.Transaction
	require.NoError(t, f.db.First(&trx, "id = ?", id).Error)
	return &trx
}

func TestProcessDeposit(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "R1", res.ReferenceID)
	assert.Equal(t, models.TransactionStatusPending, res.Status)

	// balance untouched until the provider confirms
	assert.Equal(t, int64(0), f.balance(t, w.ID))

	trx := f.transaction(t, res.TransactionID)
	assert.Equal(t, models.TransactionTypeDeposit, trx.Type)
	require.NotNil(t, trx.ProviderRef)
	assert.Equal(t, "R1", *trx.ProviderRef)
}

func TestProcessDepositGatewayFailure(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)
	f.gw.collectResult = gateway.Result{Success: false, Error: "payer not registered"}

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "payer not registered", res.Error)

	assert.Equal(t, int64(0), f.balance(t, w.ID))
	trx := f.transaction(t, res.TransactionID)
	assert.Equal(t, models.TransactionStatusFailed, trx.Status)
}

func TestProcessDepositWalletNotFound(t *testing.T) {
	f := setup(t)

	res, err := f.svc.ProcessDeposit(uuid.New(), 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrWalletNotFound.Error(), res.Error)
	assert.Zero(t, f.gw.collectCalls)
}

func TestProcessDepositUnsupportedProvider(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.PaymentProvider("ORANGE_MONEY"), "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrUnsupportedProvider.Error(), res.Error)
}

// Deposit lifecycle: gateway accepts with reference R1, balance unchanged;
// the SUCCESS webhook credits exactly once; a duplicate webhook is a no-op.
func TestDepositWebhookCreditsOnce(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(0), f.balance(t, w.ID))

	found, err := f.svc.HandleWebhook("R1", "SUCCESS", []byte(`{"status":"SUCCESS"}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1000), f.balance(t, w.ID))
	assert.Equal(t, models.TransactionStatusCompleted, f.transaction(t, res.TransactionID).Status)

	// at-least-once delivery: the provider may send it again
	found, err = f.svc.HandleWebhook("R1", "SUCCESS", []byte(`{"status":"SUCCESS"}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1000), f.balance(t, w.ID))

	assert.Contains(t, f.notifier.titles, "Deposit completed")
	assert.Len(t, f.notifier.titles, 1)
}

func TestDepositWebhookFailedNoCredit(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 500)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)

	found, err := f.svc.HandleWebhook("R1", "FAILED", []byte(`{"status":"FAILED"}`))
	require.NoError(t, err)
	assert.True(t, found)

	// a failed deposit never credited anything, so nothing changes
	assert.Equal(t, int64(500), f.balance(t, w.ID))
	assert.Equal(t, models.TransactionStatusFailed, f.transaction(t, res.TransactionID).Status)
	assert.Contains(t, f.notifier.titles, "Deposit failed")
}

// Withdrawal: 10,000 XOF balance, withdraw 3,000 via MTN MoMo, gateway
// accepts -> hold applied, balance 7,000, transaction PENDING with a
// reference; SUCCESSFUL webhook completes it with no further change.
func TestProcessWithdrawalHoldAndComplete(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 10000)

	res, err := f.svc.ProcessWithdrawal(w.UserID, 3000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "R1", res.ReferenceID)
	assert.Equal(t, int64(7000), f.balance(t, w.ID))
	assert.Equal(t, models.TransactionStatusPending, f.transaction(t, res.TransactionID).Status)

	found, err := f.svc.HandleWebhook("R1", "SUCCESSFUL", []byte(`{"status":"SUCCESSFUL"}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7000), f.balance(t, w.ID))
	assert.Equal(t, models.TransactionStatusCompleted, f.transaction(t, res.TransactionID).Status)
}

// Withdrawal whose disbursement the provider refuses: the hold is released
// and the provider's message is forwarded verbatim.
func TestProcessWithdrawalGatewayFailureRefundsHold(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 10000)
	f.gw.disburseResult = gateway.Result{Success: false, Error: "insufficient merchant float"}

	res, err := f.svc.ProcessWithdrawal(w.UserID, 3000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient merchant float", res.Error)

	assert.Equal(t, int64(10000), f.balance(t, w.ID))
	assert.Equal(t, models.TransactionStatusFailed, f.transaction(t, res.TransactionID).Status)
}

func TestProcessWithdrawalInsufficientFunds(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 2000)

	res, err := f.svc.ProcessWithdrawal(w.UserID, 3000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrInsufficientFunds.Error(), res.Error)

	// no mutation, no transaction row, no gateway call
	assert.Equal(t, int64(2000), f.balance(t, w.ID))
	assert.Zero(t, f.gw.disburseCalls)
	var count int64
	f.db.Model(&models.Transaction{}).Count(&count)
	assert.Zero(t, count)
}

func TestProcessWithdrawalLimits(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 100000)
	f.svc.MinWithdrawal = 500
	f.svc.MaxWithdrawal = 50000

	res, err := f.svc.ProcessWithdrawal(w.UserID, 100, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = f.svc.ProcessWithdrawal(w.UserID, 90000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	assert.False(t, res.Success)

	assert.Equal(t, int64(100000), f.balance(t, w.ID))
	assert.Zero(t, f.gw.disburseCalls)
}

// A FAILED webhook for an accepted withdrawal refunds the earlier hold.
func TestWithdrawalWebhookFailedRefunds(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 10000)

	res, err := f.svc.ProcessWithdrawal(w.UserID, 3000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(7000), f.balance(t, w.ID))

	found, err := f.svc.HandleWebhook("R1", "FAILED", []byte(`{"status":"FAILED"}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10000), f.balance(t, w.ID))
	assert.Equal(t, models.TransactionStatusFailed, f.transaction(t, res.TransactionID).Status)

	// duplicate failure webhook must not refund twice
	_, err = f.svc.HandleWebhook("R1", "FAILED", []byte(`{"status":"FAILED"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), f.balance(t, w.ID))

	assert.Contains(t, f.notifier.titles, "Withdrawal failed")
	assert.Len(t, f.notifier.titles, 1)
}

// Purchase: 2,000 XOF book at 5% commission -> 100 commission, 1,900 to the
// seller, buyer down by the gross amount.
func TestProcessPurchase(t *testing.T) {
	f := setup(t)
	buyer := f.createWallet(t, 5000)
	seller := f.createWallet(t, 0)
	orderID := uuid.New()

	res, err := f.svc.ProcessPurchase(buyer.UserID, seller.UserID, 2000, orderID)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, int64(3000), f.balance(t, buyer.ID))
	assert.Equal(t, int64(1900), f.balance(t, seller.ID))

	var sale models.Transaction
	require.NoError(t, f.db.First(&sale, "wallet_id = ? AND type = ?", seller.ID, models.TransactionTypeSale).Error)
	assert.Equal(t, int64(2000), sale.Amount)
	assert.Equal(t, int64(100), sale.Fee)
	assert.Equal(t, int64(1900), sale.NetAmount)
	assert.Equal(t, models.TransactionStatusCompleted, sale.Status)

	// commission row is bookkeeping on the seller's wallet, not a transfer
	var com models.Transaction
	require.NoError(t, f.db.First(&com, "wallet_id = ? AND type = ?", seller.ID, models.TransactionTypeCommission).Error)
	assert.Equal(t, int64(100), com.Amount)
}

func TestProcessPurchaseLazySellerWallet(t *testing.T) {
	f := setup(t)
	buyer := f.createWallet(t, 5000)
	sellerUserID := uuid.New()

	res, err := f.svc.ProcessPurchase(buyer.UserID, sellerUserID, 2000, uuid.New())
	require.NoError(t, err)
	require.True(t, res.Success)

	var sellerWallet models.Wallet
	require.NoError(t, f.db.First(&sellerWallet, "user_id = ?", sellerUserID).Error)
	assert.Equal(t, int64(1900), sellerWallet.Balance)
}

func TestProcessPurchaseInsufficientFunds(t *testing.T) {
	f := setup(t)
	buyer := f.createWallet(t, 1000)
	seller := f.createWallet(t, 0)

	res, err := f.svc.ProcessPurchase(buyer.UserID, seller.UserID, 2000, uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrInsufficientFunds.Error(), res.Error)

	assert.Equal(t, int64(1000), f.balance(t, buyer.ID))
	assert.Equal(t, int64(0), f.balance(t, seller.ID))
}

// If any step of the purchase fails, nothing persists: balances and rows
// roll back together.
func TestProcessPurchaseAtomicity(t *testing.T) {
	f := setup(t)
	buyer := f.createWallet(t, 5000)
	seller := f.createWallet(t, 0)

	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("fail_sale_row", func(d *gorm.DB) {
		if trx, ok := d.Statement.Dest.(*models.Transaction); ok && trx.Type == models.TransactionTypeSale {
			d.AddError(errors.New("simulated store failure"))
		}
	}))

	_, err := f.svc.ProcessPurchase(buyer.UserID, seller.UserID, 2000, uuid.New())
	require.Error(t, err)

	assert.Equal(t, int64(5000), f.balance(t, buyer.ID))
	assert.Equal(t, int64(0), f.balance(t, seller.ID))
	var count int64
	f.db.Model(&models.Transaction{}).Count(&count)
	assert.Zero(t, count)
}

func TestProcessSubscription(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 5000)
	subID := uuid.New()

	res, err := f.svc.ProcessSubscription(w.UserID, 1500, subID)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(3500), f.balance(t, w.ID))

	trx := f.transaction(t, res.TransactionID)
	assert.Equal(t, models.TransactionTypeSubscription, trx.Type)
	assert.Equal(t, models.TransactionStatusCompleted, trx.Status)
	require.NotNil(t, trx.SubscriptionID)
	assert.Equal(t, subID, *trx.SubscriptionID)
}

func TestProcessSubscriptionInsufficientFunds(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 1000)

	res, err := f.svc.ProcessSubscription(w.UserID, 1500, uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, int64(1000), f.balance(t, w.ID))
}

func TestHandleWebhookUnknownReference(t *testing.T) {
	f := setup(t)

	found, err := f.svc.HandleWebhook("NO-SUCH-REF", "SUCCESSFUL", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

// Intermediate provider statuses leave the transaction PENDING but keep the
// payload for audit.
func TestHandleWebhookIntermediateStatusIsNoOp(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)

	found, err := f.svc.HandleWebhook("R1", "ONGOING", []byte(`{"status":"ONGOING"}`))
	require.NoError(t, err)
	assert.True(t, found)

	trx := f.transaction(t, res.TransactionID)
	assert.Equal(t, models.TransactionStatusPending, trx.Status)
	assert.Equal(t, int64(0), f.balance(t, w.ID))
	assert.NotEmpty(t, trx.Metadata)
}

func TestHandleWebhookStatusVocabulary(t *testing.T) {
	tests := []struct {
		raw      string
		want     models.TransactionStatus
		terminal bool
	}{
		{"SUCCESSFUL", models.TransactionStatusCompleted, true},
		{"SUCCESS", models.TransactionStatusCompleted, true},
		{"COMPLETED", models.TransactionStatusCompleted, true},
		{"success", models.TransactionStatusCompleted, true},
		{" SUCCESS ", models.TransactionStatusCompleted, true},
		{"FAILED", models.TransactionStatusFailed, true},
		{"REJECTED", models.TransactionStatusFailed, true},
		{"ERROR", models.TransactionStatusFailed, true},
		{"CANCELLED", models.TransactionStatusCancelled, true},
		{"PENDING", "", false},
		{"ONGOING", "", false},
		{"", "", false},
		{"PAID", "", false},
	}
	for _, tt := range tests {
		got, terminal := canonicalStatus(tt.raw)
		assert.Equal(t, tt.terminal, terminal, "raw=%q", tt.raw)
		if tt.terminal {
			assert.Equal(t, tt.want, got, "raw=%q", tt.raw)
		}
	}
}

func TestApplyTerminalRejectsNonPending(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	trx := &models.Transaction{
		WalletID:  w.ID,
		Type:      models.TransactionTypeDeposit,
		Status:    models.TransactionStatusCompleted,
		Amount:    1000,
		NetAmount: 1000,
		Currency:  "XOF",
		Provider:  models.ProviderMTNMomo,
	}
	require.NoError(t, f.db.Create(trx).Error)

	err := f.svc.applyTerminal(f.db, trx, models.TransactionStatusCompleted, nil)
	assert.ErrorIs(t, err, ErrLedgerIntegrity)
	assert.Equal(t, int64(0), f.balance(t, w.ID))
}

// CheckPaymentStatus is the poll fallback: it feeds the provider's answer
// through the same reconciliation path as a webhook.
func TestCheckPaymentStatusCompletesDeposit(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)

	f.gw.statusResult = gateway.StatusResult{
		Success: true,
		Status:  "SUCCESSFUL",
		RawData: []byte(`{"status":"SUCCESSFUL"}`),
	}

	trxID, err := uuid.Parse(res.TransactionID)
	require.NoError(t, err)
	checked, err := f.svc.CheckPaymentStatus(trxID)
	require.NoError(t, err)
	require.True(t, checked.Success)
	assert.Equal(t, models.TransactionStatusCompleted, checked.Status)
	assert.Equal(t, int64(1000), f.balance(t, w.ID))

	// polling again must not re-credit
	checked, err = f.svc.CheckPaymentStatus(trxID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, checked.Status)
	assert.Equal(t, int64(1000), f.balance(t, w.ID))
	assert.Equal(t, 1, f.gw.statusCalls)
}

func TestCheckPaymentStatusNoProviderRef(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 5000)

	res, err := f.svc.ProcessSubscription(w.UserID, 1000, uuid.New())
	require.NoError(t, err)
	trxID, err := uuid.Parse(res.TransactionID)
	require.NoError(t, err)

	checked, err := f.svc.CheckPaymentStatus(trxID)
	require.NoError(t, err)
	assert.True(t, checked.Success)
	assert.Equal(t, models.TransactionStatusCompleted, checked.Status)
	assert.Zero(t, f.gw.statusCalls)
}

func TestReconcilePending(t *testing.T) {
	f := setup(t)
	w := f.createWallet(t, 0)

	res, err := f.svc.ProcessDeposit(w.UserID, 1000, models.ProviderMTNMomo, "0161000001")
	require.NoError(t, err)

	// age the row past the grace window
	require.NoError(t, f.db.Model(&models.Transaction{}).
		Where("id = ?", res.TransactionID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	f.gw.statusResult = gateway.StatusResult{
		Success: true,
		Status:  "SUCCESSFUL",
		RawData: []byte(`{"status":"SUCCESSFUL"}`),
	}

	resolved := f.svc.ReconcilePending(5 * time.Minute)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, int64(1000), f.balance(t, w.ID))

	// nothing left to reconcile
	assert.Zero(t, f.svc.ReconcilePending(5*time.Minute))
}
