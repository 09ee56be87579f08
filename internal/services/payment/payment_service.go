package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bookshell/bookshell-backend/internal/logger"
	"github.com/bookshell/bookshell-backend/internal/models"
	"github.com/bookshell/bookshell-backend/internal/services/commission"
	"github.com/bookshell/bookshell-backend/internal/services/gateway"
	"github.com/bookshell/bookshell-backend/internal/services/wallet"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	// ErrLedgerIntegrity marks an attempt to apply a balance effect to a
	// transaction that already left PENDING. This is a programming error,
	// never a normal outcome.
	ErrLedgerIntegrity = errors.New("ledger integrity violation: transaction is not pending")
)

// Notifier is the fire-and-forget sink for user-facing payment events.
type Notifier interface {
	Notify(userID uuid.UUID, title, body string)
}

// Result is what request handlers consume: both success and failure of a
// money movement are expected outcomes and travel in the value, not as an
// error. A non-nil error from a service method means the ledger store
// itself failed.
type Result struct {
	Success       bool                     `json:"success"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	ReferenceID   string                   `json:"reference_id,omitempty"`
	Status        models.TransactionStatus `json:"status,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

func failure(msg string) *Result {
	return &Result{Success: false, Error: msg}
}

type PaymentService struct {
	DB       *gorm.DB
	Wallets  *wallet.WalletService
	Gateways map[models.PaymentProvider]gateway.Gateway
	Notifier Notifier

	Currency       string
	CommissionRate float64
	MinWithdrawal  int64
	MaxWithdrawal  int64
}

func NewPaymentService(db *gorm.DB, wallets *wallet.WalletService, gateways map[models.PaymentProvider]gateway.Gateway, notifier Notifier) *PaymentService {
	return &PaymentService{
		DB:             db,
		Wallets:        wallets,
		Gateways:       gateways,
		Notifier:       notifier,
		Currency:       "XOF",
		CommissionRate: commission.DefaultRate,
	}
}

func (s *PaymentService) gatewayFor(provider models.PaymentProvider) (gateway.Gateway, bool) {
	gw, ok := s.Gateways[provider]
	return gw, ok
}

// ProcessDeposit creates a PENDING deposit and asks the provider to collect
// the funds from the user's mobile money account. The wallet balance is NOT
// touched here; the credit is applied exactly once when the provider
// confirms via webhook or status poll.
func (s *PaymentService) ProcessDeposit(userID uuid.UUID, amount int64, provider models.PaymentProvider, phoneNumber string) (*Result, error) {
	if amount <= 0 {
		return failure("amount must be greater than zero"), nil
	}
	gw, ok := s.gatewayFor(provider)
	if !ok {
		return failure(ErrUnsupportedProvider.Error()), nil
	}

	w, err := s.Wallets.GetByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return failure(ErrWalletNotFound.Error()), nil
		}
		return nil, err
	}

	trx := models.Transaction{
		WalletID:    w.ID,
		Type:        models.TransactionTypeDeposit,
		Status:      models.TransactionStatusPending,
		Amount:      amount,
		NetAmount:   amount,
		Currency:    w.Currency,
		Provider:    provider,
		Description: "Wallet deposit",
	}
	if err := s.DB.Create(&trx).Error; err != nil {
		return nil, err
	}

	res := gw.RequestCollection(gateway.PaymentRequest{
		Amount:      amount,
		Currency:    w.Currency,
		PhoneNumber: phoneNumber,
		ExternalID:  trx.ID.String(),
		Message:     "BookShell wallet deposit",
	})
	if !res.Success {
		if err := s.DB.Model(&trx).Update("status", models.TransactionStatusFailed).Error; err != nil {
			return nil, err
		}
		return &Result{Success: false, TransactionID: trx.ID.String(), Status: models.TransactionStatusFailed, Error: res.Error}, nil
	}

	if err := s.DB.Model(&trx).Update("provider_ref", res.ReferenceID).Error; err != nil {
		return nil, err
	}

	return &Result{
		Success:       true,
		TransactionID: trx.ID.String(),
		ReferenceID:   res.ReferenceID,
		Status:        models.TransactionStatusPending,
	}, nil
}

// ProcessWithdrawal debits the wallet up front (optimistic hold, so the same
// balance cannot be withdrawn twice while the disbursement is in flight) and
// credits it back if the provider refuses the request. The check-and-debit
// is serialized per wallet by the row lock.
func (s *PaymentService) ProcessWithdrawal(userID uuid.UUID, amount int64, provider models.PaymentProvider, phoneNumber string) (*Result, error) {
	if amount <= 0 {
		return failure("amount must be greater than zero"), nil
	}
	if s.MinWithdrawal > 0 && amount < s.MinWithdrawal {
		return failure(fmt.Sprintf("minimum withdrawal is %d %s", s.MinWithdrawal, s.Currency)), nil
	}
	if s.MaxWithdrawal > 0 && amount > s.MaxWithdrawal {
		return failure(fmt.Sprintf("maximum withdrawal is %d %s", s.MaxWithdrawal, s.Currency)), nil
	}
	gw, ok := s.gatewayFor(provider)
	if !ok {
		return failure(ErrUnsupportedProvider.Error()), nil
	}

	var trx models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		w, err := s.Wallets.LockByUser(tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if w.Balance < amount {
			return ErrInsufficientFunds
		}

		trx = models.Transaction{
			WalletID:    w.ID,
			Type:        models.TransactionTypeWithdrawal,
			Status:      models.TransactionStatusPending,
			Amount:      amount,
			NetAmount:   amount,
			Currency:    w.Currency,
			Provider:    provider,
			Description: "Wallet withdrawal",
		}
		if err := tx.Create(&trx).Error; err != nil {
			return err
		}
		return s.Wallets.Debit(tx, w.ID, amount)
	})
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return failure(ErrWalletNotFound.Error()), nil
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientBalance):
		return failure(ErrInsufficientFunds.Error()), nil
	case err != nil:
		return nil, err
	}

	res := gw.RequestDisbursement(gateway.PaymentRequest{
		Amount:      amount,
		Currency:    trx.Currency,
		PhoneNumber: phoneNumber,
		ExternalID:  trx.ID.String(),
		Message:     "BookShell wallet withdrawal",
	})
	if !res.Success {
		// undo the hold and close the transaction in one unit
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			if err := s.Wallets.Credit(tx, trx.WalletID, amount); err != nil {
				return err
			}
			return tx.Model(&trx).Update("status", models.TransactionStatusFailed).Error
		})
		if err != nil {
			return nil, err
		}
		return &Result{Success: false, TransactionID: trx.ID.String(), Status: models.TransactionStatusFailed, Error: res.Error}, nil
	}

	if err := s.DB.Model(&trx).Update("provider_ref", res.ReferenceID).Error; err != nil {
		return nil, err
	}

	return &Result{
		Success:       true,
		TransactionID: trx.ID.String(),
		ReferenceID:   res.ReferenceID,
		Status:        models.TransactionStatusPending,
	}, nil
}

// ProcessPurchase moves money from buyer to seller instantly, wallet-only,
// no external provider. Buyer debit, seller credit and all three ledger rows
// (PURCHASE, SALE, audit-only COMMISSION) commit or roll back together.
func (s *PaymentService) ProcessPurchase(buyerID, sellerID uuid.UUID, amount int64, orderID uuid.UUID) (*Result, error) {
	if amount <= 0 {
		return failure("amount must be greater than zero"), nil
	}
	if buyerID == sellerID {
		return failure("buyer and seller must differ"), nil
	}

	var buyerTrx models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		buyer, err := s.Wallets.LockByUser(tx, buyerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if buyer.Balance < amount {
			return ErrInsufficientFunds
		}

		seller, err := s.Wallets.GetOrCreate(tx, sellerID, buyer.Currency)
		if err != nil {
			return err
		}

		fee, sellerAmount := commission.Calculate(amount, s.CommissionRate)

		if err := s.Wallets.Debit(tx, buyer.ID, amount); err != nil {
			return err
		}
		buyerTrx = models.Transaction{
			WalletID:    buyer.ID,
			Type:        models.TransactionTypePurchase,
			Status:      models.TransactionStatusCompleted,
			Amount:      amount,
			NetAmount:   amount,
			Currency:    buyer.Currency,
			Provider:    models.ProviderWallet,
			Description: "Book purchase",
			OrderID:     &orderID,
		}
		if err := tx.Create(&buyerTrx).Error; err != nil {
			return err
		}

		if err := s.Wallets.Credit(tx, seller.ID, sellerAmount); err != nil {
			return err
		}
		saleTrx := models.Transaction{
			WalletID:    seller.ID,
			Type:        models.TransactionTypeSale,
			Status:      models.TransactionStatusCompleted,
			Amount:      amount,
			Fee:         fee,
			NetAmount:   sellerAmount,
			Currency:    buyer.Currency,
			Provider:    models.ProviderWallet,
			Description: "Book sale",
			OrderID:     &orderID,
		}
		if err := tx.Create(&saleTrx).Error; err != nil {
			return err
		}

		// audit row only: the commission never touched the seller's balance
		commissionTrx := models.Transaction{
			WalletID:    seller.ID,
			Type:        models.TransactionTypeCommission,
			Status:      models.TransactionStatusCompleted,
			Amount:      fee,
			NetAmount:   fee,
			Currency:    buyer.Currency,
			Provider:    models.ProviderWallet,
			Description: "Platform commission",
			OrderID:     &orderID,
		}
		return tx.Create(&commissionTrx).Error
	})
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return failure(ErrWalletNotFound.Error()), nil
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientBalance):
		return failure(ErrInsufficientFunds.Error()), nil
	case err != nil:
		return nil, err
	}

	return &Result{
		Success:       true,
		TransactionID: buyerTrx.ID.String(),
		Status:        models.TransactionStatusCompleted,
	}, nil
}

// ProcessSubscription is the single-sided shape of a purchase: check
// balance, debit, one COMPLETED SUBSCRIPTION row, all atomic.
func (s *PaymentService) ProcessSubscription(userID uuid.UUID, amount int64, subscriptionID uuid.UUID) (*Result, error) {
	if amount <= 0 {
		return failure("amount must be greater than zero"), nil
	}

	var trx models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		w, err := s.Wallets.LockByUser(tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if w.Balance < amount {
			return ErrInsufficientFunds
		}

		if err := s.Wallets.Debit(tx, w.ID, amount); err != nil {
			return err
		}
		trx = models.Transaction{
			WalletID:       w.ID,
			Type:           models.TransactionTypeSubscription,
			Status:         models.TransactionStatusCompleted,
			Amount:         amount,
			NetAmount:      amount,
			Currency:       w.Currency,
			Provider:       models.ProviderWallet,
			Description:    "Audiobook subscription",
			SubscriptionID: &subscriptionID,
		}
		return tx.Create(&trx).Error
	})
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return failure(ErrWalletNotFound.Error()), nil
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientBalance):
		return failure(ErrInsufficientFunds.Error()), nil
	case err != nil:
		return nil, err
	}

	return &Result{
		Success:       true,
		TransactionID: trx.ID.String(),
		Status:        models.TransactionStatusCompleted,
	}, nil
}

// canonicalStatus maps the providers' free-form status vocabulary onto the
// internal enum. Unknown strings are intermediate statuses and map to
// nothing: the transaction stays PENDING.
func canonicalStatus(raw string) (models.TransactionStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return models.TransactionStatusCompleted, true
	case "FAILED", "REJECTED", "ERROR":
		return models.TransactionStatusFailed, true
	case "CANCELLED":
		return models.TransactionStatusCancelled, true
	default:
		return "", false
	}
}

// HandleWebhook reconciles an asynchronous provider callback against the
// pending transaction it references. Delivery is at-least-once and possibly
// duplicated, so everything here must be idempotent: once a transaction is
// terminal, further callbacks for its reference are no-ops. Returns false
// only when the reference matches no transaction.
func (s *PaymentService) HandleWebhook(referenceID, rawStatus string, payload []byte) (bool, error) {
	var trx models.Transaction
	if err := s.DB.First(&trx, "provider_ref = ?", referenceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("webhook for unknown reference", "reference_id", referenceID, "status", rawStatus)
			return false, nil
		}
		return false, err
	}

	target, terminal := canonicalStatus(rawStatus)
	if !terminal {
		// intermediate provider status: keep the payload for audit, change nothing
		if len(payload) > 0 {
			if err := s.DB.Model(&trx).Update("metadata", datatypes.JSON(payload)).Error; err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if trx.Status.IsTerminal() {
		logger.Info("duplicate webhook for terminal transaction",
			"transaction_id", trx.ID, "status", trx.Status, "webhook_status", rawStatus)
		return true, nil
	}

	applied := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// re-read under lock: two deliveries racing here must not both apply
		var locked models.Transaction
		if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&locked, "id = ?", trx.ID).Error; err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return nil
		}
		if err := s.applyTerminal(tx, &locked, target, payload); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.notifyTerminal(&trx, target)
	}
	return true, nil
}

// applyTerminal moves a PENDING transaction into its terminal state and
// applies the balance effect exactly once. Calling it with a non-PENDING
// row is rejected as an integrity violation.
func (s *PaymentService) applyTerminal(tx *gorm.DB, trx *models.Transaction, target models.TransactionStatus, payload []byte) error {
	if trx.Status != models.TransactionStatusPending {
		return ErrLedgerIntegrity
	}

	switch {
	case trx.Type == models.TransactionTypeDeposit && target == models.TransactionStatusCompleted:
		if err := s.Wallets.Credit(tx, trx.WalletID, trx.NetAmount); err != nil {
			return err
		}
	case trx.Type == models.TransactionTypeWithdrawal && target != models.TransactionStatusCompleted:
		// the hold was taken at creation; a failed or cancelled
		// disbursement returns it
		if err := s.Wallets.Credit(tx, trx.WalletID, trx.Amount); err != nil {
			return err
		}
	}

	updates := map[string]any{"status": target}
	if len(payload) > 0 {
		updates["metadata"] = datatypes.JSON(payload)
	}
	return tx.Model(trx).Updates(updates).Error
}

func (s *PaymentService) notifyTerminal(trx *models.Transaction, target models.TransactionStatus) {
	if s.Notifier == nil {
		return
	}
	var w models.Wallet
	if err := s.DB.First(&w, "id = ?", trx.WalletID).Error; err != nil {
		logger.Error("failed to load wallet for notification", "wallet_id", trx.WalletID, "err", err)
		return
	}

	amount := fmt.Sprintf("%d %s", trx.Amount, trx.Currency)
	switch {
	case trx.Type == models.TransactionTypeDeposit && target == models.TransactionStatusCompleted:
		s.Notifier.Notify(w.UserID, "Deposit completed", "Your deposit of "+amount+" has been credited to your wallet.")
	case trx.Type == models.TransactionTypeDeposit:
		s.Notifier.Notify(w.UserID, "Deposit failed", "Your deposit of "+amount+" was not completed. You have not been charged.")
	case trx.Type == models.TransactionTypeWithdrawal && target == models.TransactionStatusCompleted:
		s.Notifier.Notify(w.UserID, "Withdrawal completed", "Your withdrawal of "+amount+" has been sent to your mobile money account.")
	case trx.Type == models.TransactionTypeWithdrawal:
		s.Notifier.Notify(w.UserID, "Withdrawal failed", "Your withdrawal of "+amount+" failed. The funds are back in your wallet.")
	}
}

// CheckPaymentStatus actively polls the provider for a transaction's outcome
// and feeds the answer through the same reconciliation path as a webhook.
// Mobile money webhook delivery is unreliable in the deployment region;
// this is the safety net.
func (s *PaymentService) CheckPaymentStatus(transactionID uuid.UUID) (*Result, error) {
	var trx models.Transaction
	if err := s.DB.First(&trx, "id = ?", transactionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return failure("transaction not found"), nil
		}
		return nil, err
	}

	if trx.ProviderRef == nil || trx.Status.IsTerminal() {
		return &Result{Success: true, TransactionID: trx.ID.String(), Status: trx.Status}, nil
	}

	gw, ok := s.gatewayFor(trx.Provider)
	if !ok {
		return failure(ErrUnsupportedProvider.Error()), nil
	}

	st := gw.GetStatus(*trx.ProviderRef)
	if !st.Success {
		return &Result{Success: false, TransactionID: trx.ID.String(), Status: trx.Status, Error: st.Error}, nil
	}

	if _, err := s.HandleWebhook(*trx.ProviderRef, st.Status, st.RawData); err != nil {
		return nil, err
	}

	if err := s.DB.First(&trx, "id = ?", transactionID).Error; err != nil {
		return nil, err
	}
	return &Result{
		Success:       true,
		TransactionID: trx.ID.String(),
		ReferenceID:   *trx.ProviderRef,
		Status:        trx.Status,
	}, nil
}
