package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wischat/backend/internal/model/chat"
)

// Store persists sessions and their append-only message logs.
type Store struct {
	db *gorm.DB

	// SQLite only supports one writer at a time, so every write goes
	// through writeMu.
	writeMu sync.Mutex

	// seqMu guards seqLocks; each entry serializes seq assignment for
	// one session so independent sessions append in parallel.
	seqMu    sync.Mutex
	seqLocks map[string]*sync.Mutex

	dedupRetention time.Duration
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string, dedupRetention time.Duration) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&chat.Session{}, &chat.Message{}); err != nil {
		return nil, err
	}

	return &Store{
		db:             db,
		seqLocks:       make(map[string]*sync.Mutex),
		dedupRetention: dedupRetention,
	}, nil
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	lock, ok := s.seqLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.seqLocks[sessionID] = lock
	}
	return lock
}

// GetSession retrieves a session by identifier.
func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, chat.ErrSessionNotFound
	}
	return session, err
}

// GetOrCreateSession returns the active session with the given ID,
// creating it on first visitor contact. A closed session is never
// reopened; callers get ErrSessionClosed instead.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID, visitorID string) (chat.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err == nil {
		if session.Status == chat.SessionClosed {
			return chat.Session{}, chat.ErrSessionClosed
		}
		return session, nil
	}
	if !errors.Is(err, chat.ErrSessionNotFound) {
		return chat.Session{}, err
	}

	now := time.Now().UTC()
	session = chat.Session{
		ID:             sessionID,
		VisitorID:      visitorID,
		Status:         chat.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	s.writeMu.Lock()
	err = s.db.WithContext(ctx).Create(&session).Error
	s.writeMu.Unlock()
	if err != nil {
		// A concurrent first message may have won the insert.
		if existing, getErr := s.GetSession(ctx, sessionID); getErr == nil {
			if existing.Status == chat.SessionClosed {
				return chat.Session{}, chat.ErrSessionClosed
			}
			return existing, nil
		}
		return chat.Session{}, err
	}
	return session, nil
}

// TouchSession bumps the session's last activity timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

// CloseSession marks the session closed. Closing an already-closed
// session is a no-op.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", sessionID).
		Update("status", chat.SessionClosed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

// CloseIdleSessions closes every active session whose last activity is
// older than cutoff and returns the IDs it closed. The candidate scan
// runs without any lock; only the status transition takes the write
// lock, so concurrent appends are not blocked by the sweep.
func (s *Store) CloseIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("status = ? AND last_activity_at < ?", chat.SessionActive, cutoff).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	s.writeMu.Lock()
	err = s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id IN ? AND status = ?", ids, chat.SessionActive).
		Update("status", chat.SessionClosed).Error
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListSessions returns sessions ordered by most recent activity,
// optionally filtered by status.
func (s *Store) ListSessions(ctx context.Context, status string) ([]chat.Session, error) {
	q := s.db.WithContext(ctx).Order("last_activity_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []chat.Session
	err := q.Find(&sessions).Error
	return sessions, err
}

// AppendMessage assigns the next seq for the session and writes the
// message. The whole read-assign-insert sequence runs inside the
// session's critical section so seq values come out gap-free even under
// concurrent ingress. A reused idempotency key within the retention
// window returns the originally stored message with dedup set.
func (s *Store) AppendMessage(ctx context.Context, sessionID, senderID, senderType, body, idempotencyKey string) (chat.Message, bool, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, false, err
	}
	if session.Status == chat.SessionClosed {
		return chat.Message{}, false, chat.ErrSessionClosed
	}

	if idempotencyKey != "" {
		var existing chat.Message
		cutoff := time.Now().UTC().Add(-s.dedupRetention)
		err := s.db.WithContext(ctx).
			Where("session_id = ? AND idempotency_key = ? AND created_at > ?", sessionID, idempotencyKey, cutoff).
			First(&existing).Error
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Message{}, false, err
		}
	}

	var lastSeq int64
	row := s.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(seq), 0)").
		Row()
	if err := row.Scan(&lastSeq); err != nil {
		return chat.Message{}, false, err
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Seq:            lastSeq + 1,
		SenderID:       senderID,
		SenderType:     senderType,
		Body:           body,
		IdempotencyKey: idempotencyKey,
		Status:         chat.MessageSent,
		CreatedAt:      time.Now().UTC(),
	}

	s.writeMu.Lock()
	err = s.db.WithContext(ctx).Create(&msg).Error
	s.writeMu.Unlock()
	if err != nil {
		return chat.Message{}, false, err
	}
	return msg, false, nil
}

// ReadFrom returns up to limit messages with seq > afterSeq in ascending
// seq order. Callers resume by passing the last seq they saw. An unknown
// session yields an empty batch.
func (s *Store) ReadFrom(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]chat.Message, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var messages []chat.Message
	err := q.Find(&messages).Error
	return messages, err
}
