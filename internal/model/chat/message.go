package chat

import "time"

// Sender types accepted on ingress.
const (
	SenderVisitor = "visitor"
	SenderAdmin   = "admin"
	SenderSystem  = "system"
)

// Message delivery status. Messages are written as sent; delivered is
// recorded later by the admin app's read receipts.
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
)

// Message is one immutable entry in a session's append-only log. Seq is
// assigned by the store and is strictly increasing per session with no
// gaps.
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID      string    `gorm:"size:64;not null;uniqueIndex:uk_session_seq;index:idx_session_idem" json:"sessionId"`
	Seq            int64     `gorm:"not null;uniqueIndex:uk_session_seq" json:"seq"`
	SenderID       string    `gorm:"size:64;not null" json:"senderId"`
	SenderType     string    `gorm:"size:16;not null" json:"senderType"`
	Body           string    `gorm:"size:4096;not null" json:"body"`
	IdempotencyKey string    `gorm:"size:128;index:idx_session_idem" json:"-"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ValidSenderType reports whether t is one of the allowed sender types.
func ValidSenderType(t string) bool {
	switch t {
	case SenderVisitor, SenderAdmin, SenderSystem:
		return true
	}
	return false
}
