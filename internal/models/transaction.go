package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether the status allows no further transition.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

type TransactionType string

const (
	TransactionTypeDeposit      TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal   TransactionType = "WITHDRAWAL"
	TransactionTypePurchase     TransactionType = "PURCHASE"
	TransactionTypeSale         TransactionType = "SALE"
	TransactionTypeCommission   TransactionType = "COMMISSION"
	TransactionTypeSubscription TransactionType = "SUBSCRIPTION"
)

type PaymentProvider string

const (
	ProviderMTNMomo   PaymentProvider = "MTN_MOMO"
	ProviderMoovMoney PaymentProvider = "MOOV_MONEY"
	ProviderWallet    PaymentProvider = "WALLET"
)

// Transaction is one balance-affecting (or audit-only, for COMMISSION rows)
// ledger event. Rows are never deleted; status moves one-way from PENDING
// into a terminal state.
type Transaction struct {
	ID       uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	WalletID uuid.UUID         `gorm:"type:char(36);index;not null" json:"wallet_id"`
	Type     TransactionType   `gorm:"type:varchar(20);not null;index" json:"type"`
	Status   TransactionStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`

	Amount    int64  `gorm:"not null" json:"amount"`
	Fee       int64  `gorm:"not null;default:0" json:"fee"`
	NetAmount int64  `gorm:"not null" json:"net_amount"`
	Currency  string `gorm:"type:varchar(3);not null;default:'XOF'" json:"currency"`

	Provider    PaymentProvider `gorm:"type:varchar(20)" json:"provider,omitempty"`
	ProviderRef *string         `gorm:"type:varchar(64);uniqueIndex" json:"provider_ref,omitempty"`

	Description string         `gorm:"type:text" json:"description"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	OrderID        *uuid.UUID `gorm:"type:char(36);index" json:"order_id,omitempty"`
	SubscriptionID *uuid.UUID `gorm:"type:char(36);index" json:"subscription_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Wallet *Wallet `gorm:"foreignKey:WalletID" json:"-"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}
