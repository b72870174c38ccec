// Package activity keeps the bounded, time-ordered journal of
// operator-relevant events.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/models"
)

// DefaultCapacity bounds the log; the oldest entries are evicted first.
const DefaultCapacity = 50

// Log is an append-at-head journal capped at a fixed number of entries.
// Eviction is FIFO by insertion order, not by entry age, so out-of-order
// timestamps never change which entry is dropped.
type Log struct {
	mu       sync.Mutex
	entries  []models.ActivityEntry
	capacity int
	logger   logger.Logger
}

// NewLog creates a log holding at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func NewLog(capacity int, log logger.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Log{
		entries:  make([]models.ActivityEntry, 0, capacity),
		capacity: capacity,
		logger:   log,
	}
}

// Append inserts a new entry at the head and evicts from the tail when the
// log exceeds its capacity. The stored entry is returned.
func (l *Log) Append(category models.ActivityCategory, message string, details map[string]interface{}) models.ActivityEntry {
	entry := models.ActivityEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Category:  category,
		Message:   message,
		Details:   details,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append([]models.ActivityEntry{entry}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}

	l.logger.Debug().
		Str("category", string(category)).
		Str("message", message).
		Msg("Activity entry appended")

	return entry
}

// Entries returns a copy of the log, newest first.
func (l *Log) Entries() []models.ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ActivityEntry, len(l.entries))
	copy(out, l.entries)

	return out
}

// Len returns the current number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// Clear empties the log. Irreversible; exposed only as an explicit operator
// action.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = l.entries[:0]
}
