package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wischat/backend/internal/model/chat"
	"github.com/wischat/backend/internal/service/relay"
	"github.com/wischat/backend/internal/store"
)

// ErrTransient marks storage failures that are safe to retry with
// backoff. Handlers map it to 503.
var ErrTransient = errors.New("storage temporarily unavailable")

// ValidationError reports a rejected input field. Clients must fix the
// request; it is never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// Options tune ingress behavior.
type Options struct {
	// MaxBodyLength caps message bodies, in characters.
	MaxBodyLength int
	// IdleTimeout is how long a session may stay inactive before the
	// sweep closes it.
	IdleTimeout time.Duration
}

// Service orchestrates the session store, message log and delivery
// relay behind the ingress boundary.
type Service struct {
	store *store.Store
	relay *relay.Relay
	opts  Options
}

// NewService wires ingress onto the given store and relay.
func NewService(st *store.Store, rl *relay.Relay, opts Options) *Service {
	return &Service{store: st, relay: rl, opts: opts}
}

// PostMessageInput is the ingress payload for one message submission.
type PostMessageInput struct {
	SessionID      string
	SenderID       string
	SenderType     string
	Body           string
	IdempotencyKey string
}

func (s *Service) validate(in PostMessageInput) error {
	checks := []struct {
		field  string
		ok     bool
		reason string
	}{
		{"sessionId", strings.TrimSpace(in.SessionID) != "", "must not be empty"},
		{"senderId", strings.TrimSpace(in.SenderID) != "", "must not be empty"},
		{"senderType", chat.ValidSenderType(in.SenderType), "must be one of visitor, admin, system"},
		{"body", strings.TrimSpace(in.Body) != "", "must not be empty"},
		{"body", utf8.RuneCountInString(in.Body) <= s.opts.MaxBodyLength,
			fmt.Sprintf("must be at most %d characters", s.opts.MaxBodyLength)},
	}
	for _, c := range checks {
		if !c.ok {
			return &ValidationError{Field: c.field, Reason: c.reason}
		}
	}
	return nil
}

// PostMessage validates the submission, ensures the session exists (a
// visitor's first message creates it), appends to the log and wakes the
// relay. The returned bool reports an idempotency-key dedup hit.
func (s *Service) PostMessage(ctx context.Context, in PostMessageInput) (chat.Message, bool, error) {
	if err := s.validate(in); err != nil {
		return chat.Message{}, false, err
	}

	if in.SenderType == chat.SenderVisitor {
		if _, err := s.store.GetOrCreateSession(ctx, in.SessionID, in.SenderID); err != nil {
			return chat.Message{}, false, classify(err)
		}
	}

	if err := s.store.TouchSession(ctx, in.SessionID); err != nil {
		return chat.Message{}, false, classify(err)
	}

	msg, dedup, err := s.store.AppendMessage(ctx, in.SessionID, in.SenderID, in.SenderType, in.Body, in.IdempotencyKey)
	if err != nil {
		return chat.Message{}, false, classify(err)
	}

	if !dedup {
		s.relay.Publish(in.SessionID)
	}
	return msg, dedup, nil
}

// History returns messages with seq > afterSeq for polling clients. An
// unknown session reads as empty history rather than an error.
func (s *Service) History(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	messages, err := s.store.ReadFrom(ctx, sessionID, afterSeq, limit)
	if err != nil {
		return nil, classify(err)
	}
	return messages, nil
}

// Subscribe opens a push subscription on the session. A closed session
// is terminal and yields chat.ErrSessionClosed immediately.
func (s *Service) Subscribe(ctx context.Context, sessionID string, afterSeq int64) (*relay.Subscription, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, chat.ErrSessionNotFound) {
		return nil, classify(err)
	}
	if err == nil && session.Status == chat.SessionClosed {
		return nil, chat.ErrSessionClosed
	}
	// An unknown session behaves like an empty one: the widget may
	// subscribe before the first message creates the session.
	return s.relay.Subscribe(ctx, sessionID, afterSeq), nil
}

// CloseSession closes the session and terminates its subscriptions.
// Idempotent for already-closed sessions.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	if err := s.store.CloseSession(ctx, sessionID); err != nil {
		return classify(err)
	}
	s.relay.CloseSession(sessionID)
	return nil
}

// ListSessions returns sessions for the admin app, optionally filtered
// by status.
func (s *Service) ListSessions(ctx context.Context, status string) ([]chat.Session, error) {
	if status != "" && status != chat.SessionActive && status != chat.SessionClosed {
		return nil, &ValidationError{Field: "status", Reason: "must be active or closed"}
	}
	sessions, err := s.store.ListSessions(ctx, status)
	if err != nil {
		return nil, classify(err)
	}
	return sessions, nil
}

// SweepIdleSessions closes sessions idle longer than the configured
// timeout and terminates their subscriptions. Returns how many sessions
// it closed.
func (s *Service) SweepIdleSessions(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.opts.IdleTimeout)
	ids, err := s.store.CloseIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, classify(err)
	}
	for _, id := range ids {
		s.relay.CloseSession(id)
	}
	return len(ids), nil
}

// RunSweeper drives the idle-session sweep on a single periodic timer
// until ctx is cancelled. This is the system's only scheduled
// background operation.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := s.SweepIdleSessions(ctx)
			if err != nil {
				log.Printf("[sweep] failed: %v", err)
				continue
			}
			if closed > 0 {
				log.Printf("[sweep] closed %d idle session(s)", closed)
			}
		}
	}
}

// classify folds store errors into the ingress taxonomy: domain
// sentinels pass through, everything else is transient.
func classify(err error) error {
	if errors.Is(err, chat.ErrSessionNotFound) || errors.Is(err, chat.ErrSessionClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
