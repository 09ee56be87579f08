package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Notification struct {
	ID     uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:char(36);index;not null" json:"user_id"`
	Title  string    `gorm:"type:varchar(120);not null" json:"title"`
	Body   string    `gorm:"type:text" json:"body"`
	IsRead bool      `gorm:"default:false" json:"is_read"`

	CreatedAt time.Time `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return
}
