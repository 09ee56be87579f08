package notification

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/bookshell/bookshell-backend/internal/logger"
	"github.com/bookshell/bookshell-backend/internal/models"
)

// NotificationService stores a notification row and publishes it on the
// user's redis channel for any connected client. Fire-and-forget: payment
// flows never fail because a notification could not be delivered.
type NotificationService struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewNotificationService(db *gorm.DB, rdb *redis.Client) *NotificationService {
	return &NotificationService{DB: db, RDB: rdb}
}

func (s *NotificationService) Notify(userID uuid.UUID, title, body string) {
	n := models.Notification{
		UserID: userID,
		Title:  title,
		Body:   body,
	}
	if err := s.DB.Create(&n).Error; err != nil {
		logger.Error("failed to store notification", "user_id", userID, "err", err)
		return
	}

	if s.RDB == nil {
		return
	}
	payload, _ := json.Marshal(n)
	if err := s.RDB.Publish(context.Background(), "notifications:"+userID.String(), payload).Err(); err != nil {
		logger.Warn("failed to publish notification", "user_id", userID, "err", err)
	}
}
