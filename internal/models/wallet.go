package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Wallet holds a user's stored balance in minor-unit-free XOF.
// Balance is only ever mutated through transaction-driven effects
// in the payment service, never written directly by handlers.
type Wallet struct {
	ID       uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:char(36);uniqueIndex;not null" json:"user_id"`
	Balance  int64     `gorm:"not null;default:0" json:"balance"`
	Currency string    `gorm:"type:varchar(3);not null;default:'XOF'" json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return
}
