package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chorus/chat-service/models"
)

// queueAppendLock is the advisory lock key serializing postgres appends, so
// ids become visible in commit order.
const queueAppendLock = 7_340_001

// queueRow is the table form of a QueueEntry
type queueRow struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	RecipientUserID string    `gorm:"size:191;not null;default:'';index"`
	Payload         string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (queueRow) TableName() string {
	return "chat_queue"
}

func (r queueRow) entry() models.QueueEntry {
	return models.QueueEntry{
		ID:              r.ID,
		RecipientUserID: r.RecipientUserID,
		Payload:         json.RawMessage(r.Payload),
		CreatedAt:       r.CreatedAt,
	}
}

// Migrate creates the chat tables
func Migrate(db *gorm.DB) error {
	for _, model := range []interface{}{&models.OnlineRecord{}, &queueRow{}, &models.User{}} {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	return nil
}

// GormPresence keeps OnlineRecords in a table. Per-user atomicity comes from
// conditional updates and deletes rather than row locks.
type GormPresence struct {
	db *gorm.DB
}

func NewGormPresence(db *gorm.DB) *GormPresence {
	return &GormPresence{db: db}
}

// maxTouchAttempts bounds the update/insert race loop
const maxTouchAttempts = 5

func (gp *GormPresence) Touch(ctx context.Context, userID string, now, cutoff time.Time) (bool, error) {
	db := gp.db.WithContext(ctx)

	for attempt := 0; attempt < maxTouchAttempts; attempt++ {
		fresh := db.Model(&models.OnlineRecord{}).
			Where("user_id = ? AND last_seen_at >= ?", userID, cutoff).
			Update("last_seen_at", now)
		if fresh.Error != nil {
			return false, fmt.Errorf("failed to refresh presence: %w", fresh.Error)
		}
		if fresh.RowsAffected == 1 {
			return false, nil
		}

		stale := db.Model(&models.OnlineRecord{}).
			Where("user_id = ? AND last_seen_at < ?", userID, cutoff).
			Update("last_seen_at", now)
		if stale.Error != nil {
			return false, fmt.Errorf("failed to revive presence: %w", stale.Error)
		}
		if stale.RowsAffected == 1 {
			return true, nil
		}

		created := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.OnlineRecord{UserID: userID, LastSeenAt: now})
		if created.Error != nil {
			return false, fmt.Errorf("failed to create presence: %w", created.Error)
		}
		if created.RowsAffected == 1 {
			return true, nil
		}
		// another request changed the row between our statements
	}
	return false, fmt.Errorf("presence for %s kept changing after %d attempts", userID, maxTouchAttempts)
}

func (gp *GormPresence) Sweep(ctx context.Context, cutoff time.Time) ([]models.OnlineRecord, error) {
	db := gp.db.WithContext(ctx)

	var candidates []models.OnlineRecord
	if err := db.Where("last_seen_at < ?", cutoff).Order("user_id").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to find timed out users: %w", err)
	}

	expired := make([]models.OnlineRecord, 0, len(candidates))
	for _, c := range candidates {
		// the cutoff condition loses to a concurrent touch
		res := db.Where("user_id = ? AND last_seen_at < ?", c.UserID, cutoff).Delete(&models.OnlineRecord{})
		if res.Error != nil {
			return expired, fmt.Errorf("failed to remove presence for %s: %w", c.UserID, res.Error)
		}
		if res.RowsAffected == 1 {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

func (gp *GormPresence) List(ctx context.Context) ([]models.OnlineRecord, error) {
	var records []models.OnlineRecord
	if err := gp.db.WithContext(ctx).Order("user_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	return records, nil
}

// GormQueue stores entries in an auto-increment table
type GormQueue struct {
	db *gorm.DB
}

func NewGormQueue(db *gorm.DB) *GormQueue {
	return &GormQueue{db: db}
}

func (gq *GormQueue) Append(ctx context.Context, recipient string, payload json.RawMessage, at time.Time) (models.QueueEntry, error) {
	row := queueRow{RecipientUserID: recipient, Payload: string(payload), CreatedAt: at}

	err := gq.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", queueAppendLock).Error; err != nil {
				return err
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return row.entry(), nil
}

func (gq *GormQueue) After(ctx context.Context, cursor int64, userID string, limit int) ([]models.QueueEntry, error) {
	var rows []queueRow
	err := gq.db.WithContext(ctx).
		Where("id > ?", cursor).
		Where("recipient_user_id = ? OR recipient_user_id = ?", models.Broadcast, userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	entries := make([]models.QueueEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (gq *GormQueue) DeleteThrough(ctx context.Context, cursor int64) (int64, error) {
	res := gq.db.WithContext(ctx).Where("id <= ?", cursor).Delete(&queueRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to trim queue: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GormDirectory exports users from the users table
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (gd *GormDirectory) Export(ctx context.Context, userID string) (models.UserView, error) {
	var user models.User
	err := gd.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallbackView(userID), nil
	}
	if err != nil {
		return models.UserView{}, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return user.View(), nil
}

func (gd *GormDirectory) Remember(ctx context.Context, user models.UserView) error {
	row := models.User{ID: user.ID, Name: user.Name, Avatar: user.Avatar}
	err := gd.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "avatar", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store user %s: %w", user.ID, err)
	}
	return nil
}
