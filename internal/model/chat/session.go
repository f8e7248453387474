package chat

import (
	"errors"
	"time"
)

// Session status values. A session is created active on first visitor
// contact and transitions to closed exactly once, either explicitly or
// via the idle sweep.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// Session captures one visitor-to-agent conversation.
type Session struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	VisitorID      string    `gorm:"size:64;not null" json:"visitorId"`
	Status         string    `gorm:"size:16;not null;index:idx_status_activity" json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `gorm:"index:idx_status_activity" json:"lastActivityAt"`
}
