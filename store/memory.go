package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"chorus/chat-service/models"
)

// MemoryPresence keeps OnlineRecords in process memory
type MemoryPresence struct {
	mu      sync.Mutex
	records map[string]time.Time
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{records: make(map[string]time.Time)}
}

func (m *MemoryPresence) Touch(_ context.Context, userID string, now, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.records[userID]
	m.records[userID] = now
	return !ok || last.Before(cutoff), nil
}

func (m *MemoryPresence) Sweep(_ context.Context, cutoff time.Time) ([]models.OnlineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []models.OnlineRecord
	for id, last := range m.records {
		if last.Before(cutoff) {
			expired = append(expired, models.OnlineRecord{UserID: id, LastSeenAt: last})
			delete(m.records, id)
		}
	}
	sortRecords(expired)
	return expired, nil
}

func (m *MemoryPresence) List(_ context.Context) ([]models.OnlineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]models.OnlineRecord, 0, len(m.records))
	for id, last := range m.records {
		records = append(records, models.OnlineRecord{UserID: id, LastSeenAt: last})
	}
	sortRecords(records)
	return records, nil
}

// MemoryQueue is an append-ordered slice of entries; ids come from a counter
// that survives trims.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries []models.QueueEntry
	lastID  int64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (m *MemoryQueue) Append(_ context.Context, recipient string, payload json.RawMessage, at time.Time) (models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	entry := models.QueueEntry{
		ID:              m.lastID,
		RecipientUserID: recipient,
		Payload:         append(json.RawMessage(nil), payload...),
		CreatedAt:       at,
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemoryQueue) After(_ context.Context, cursor int64, userID string, limit int) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.QueueEntry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.ID <= cursor {
			break
		}
		if e.VisibleTo(userID) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryQueue) DeleteThrough(_ context.Context, cursor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// entries are sorted by id
	n := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].ID > cursor })
	m.entries = append([]models.QueueEntry(nil), m.entries[n:]...)
	return int64(n), nil
}

// Len reports how many entries are retained
func (m *MemoryQueue) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MemoryDirectory remembers user views seen in identity claims
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]models.UserView
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]models.UserView)}
}

func (m *MemoryDirectory) Export(_ context.Context, userID string) (models.UserView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return fallbackView(userID), nil
}

func (m *MemoryDirectory) Remember(_ context.Context, user models.UserView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[user.ID] = user
	return nil
}

func fallbackView(userID string) models.UserView {
	return models.UserView{ID: userID, Name: userID}
}

func sortRecords(records []models.OnlineRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
}
