package wallet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bookshell/bookshell-backend/internal/models"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

type WalletService struct {
	DB *gorm.DB
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{DB: db}
}

func (s *WalletService) GetByUser(userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.DB.First(&w, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreate returns the user's wallet, lazily creating a zero-balance one.
// Used for the seller side of a purchase; deposit and withdrawal flows never
// auto-create.
func (s *WalletService) GetOrCreate(tx *gorm.DB, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.First(&w, "user_id = ?", userID).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	w = models.Wallet{UserID: userID, Balance: 0, Currency: currency}
	if err := tx.Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// LockByUser reads the wallet row under FOR UPDATE so a concurrent
// check-and-debit on the same wallet serializes behind this transaction.
func (s *WalletService) LockByUser(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&w, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// Credit adds funds to a wallet. The balance delta is applied at the storage
// layer, never via read-modify-write in application code.
// Must be called within a DB transaction.
func (s *WalletService) Credit(tx *gorm.DB, walletID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.New("amount to credit must be greater than zero")
	}

	result := tx.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Update("balance", gorm.Expr("balance + ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	return nil
}

// Debit removes funds from a wallet, guarded so the balance can never go
// negative even under concurrent debits. Must be called within a DB transaction.
func (s *WalletService) Debit(tx *gorm.DB, walletID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return errors.New("amount to debit must be greater than zero")
	}

	result := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance >= ?", walletID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
