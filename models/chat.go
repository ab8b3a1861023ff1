package models

import (
	"encoding/json"
	"time"
)

// Broadcast is the recipient marker for room-wide queue entries
const Broadcast = ""

// OnlineRecord represents one user's current presence
type OnlineRecord struct {
	UserID     string    `json:"user_id" gorm:"primaryKey;size:191"`
	LastSeenAt time.Time `json:"last_seen_at" gorm:"not null;index"`
}

func (OnlineRecord) TableName() string {
	return "chat_online"
}

// QueueEntry is one message in global arrival order. ID doubles as the poll cursor.
type QueueEntry struct {
	ID              int64           `json:"id"`
	RecipientUserID string          `json:"recipient_user_id"`
	Payload         json.RawMessage `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

// VisibleTo reports whether the entry is room-wide or directed at userID
func (e QueueEntry) VisibleTo(userID string) bool {
	return e.RecipientUserID == Broadcast || e.RecipientUserID == userID
}

// UserView is the public-safe representation of a user
type UserView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// User is the persisted form of a UserView for SQL-backed directories
type User struct {
	ID        string    `gorm:"primaryKey;size:191"`
	Name      string    `gorm:"not null"`
	Avatar    string
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "chat_users"
}

func (u User) View() UserView {
	return UserView{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// PollResult is the response body of a poll request
type PollResult struct {
	Last  int64             `json:"last"`
	Queue []json.RawMessage `json:"queue"`
}
