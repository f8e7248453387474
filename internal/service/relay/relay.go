package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/wischat/backend/internal/model/chat"
)

// catchUpBatch bounds how many messages one log read may return; a full
// batch means more may be pending and the pump re-reads immediately.
const catchUpBatch = 256

// Log is the slice of the message store the relay reads from.
type Log interface {
	ReadFrom(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]chat.Message, error)
}

// Relay fans appended messages out to per-session subscriptions. Each
// subscription replays catch-up history first, then receives live
// messages in seq order, never delivering the same seq twice within its
// lifetime.
type Relay struct {
	log       Log
	heartbeat time.Duration

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// New builds a relay reading from log. heartbeat bounds how long an
// idle subscription waits before re-polling the log.
func New(log Log, heartbeat time.Duration) *Relay {
	return &Relay{
		log:       log,
		heartbeat: heartbeat,
		subs:      make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is one listener's ordered view of a session's log.
// Messages is closed when the subscription ends; Err then reports
// chat.ErrSessionClosed if the session was closed, nil on cancellation.
type Subscription struct {
	sessionID string
	out       chan chat.Message
	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc

	mu  sync.Mutex
	err error
}

// Messages yields catch-up and live messages in non-decreasing seq order.
func (s *Subscription) Messages() <-chan chat.Message { return s.out }

// Err reports why the subscription terminated. Only meaningful after
// Messages is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel releases the subscription. Safe to call repeatedly and after
// the session closed.
func (s *Subscription) Cancel() { s.cancel() }

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe opens a subscription that first replays messages with
// seq > afterSeq from the log, then follows live appends. It stays open
// until ctx is cancelled, Cancel is called, or the session closes.
func (r *Relay) Subscribe(ctx context.Context, sessionID string, afterSeq int64) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		sessionID: sessionID,
		out:       make(chan chat.Message, 32),
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
		cancel:    cancel,
	}

	r.mu.Lock()
	if r.subs[sessionID] == nil {
		r.subs[sessionID] = make(map[*Subscription]struct{})
	}
	r.subs[sessionID][sub] = struct{}{}
	r.mu.Unlock()

	go r.pump(ctx, sub, afterSeq)
	return sub
}

// Publish wakes every subscription on the session so it re-reads the
// log. Called by ingress after each non-dedup append.
func (r *Relay) Publish(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs[sessionID] {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// CloseSession signals every subscription on the session to drain any
// remaining messages and terminate with chat.ErrSessionClosed.
func (r *Relay) CloseSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs[sessionID] {
		sub.closeOnce.Do(func() { close(sub.closed) })
	}
}

func (r *Relay) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set := r.subs[sub.sessionID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.subs, sub.sessionID)
		}
	}
}

// pump is the subscription's delivery loop: read a batch after the
// cursor, emit it, then wait for a wakeup, a heartbeat re-poll, session
// closure, or cancellation. The single cursor makes out-of-order or
// duplicate delivery impossible within one subscription.
func (r *Relay) pump(ctx context.Context, sub *Subscription, afterSeq int64) {
	defer close(sub.out)
	defer r.remove(sub)

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	cursor := afterSeq
	for {
		batch, err := r.log.ReadFrom(ctx, sub.sessionID, cursor, catchUpBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Storage hiccup: retry on the next wakeup or heartbeat.
			log.Printf("[relay] read failed for session=%s: %v", sub.sessionID, err)
		}

		for _, msg := range batch {
			select {
			case sub.out <- msg:
				cursor = msg.Seq
			case <-ctx.Done():
				return
			}
		}
		if len(batch) == catchUpBatch {
			continue
		}

		select {
		case <-sub.wake:
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-sub.closed:
			// Deliver anything appended before the close marker, then
			// surface the terminal signal.
			final, err := r.log.ReadFrom(ctx, sub.sessionID, cursor, catchUpBatch)
			if err == nil {
				for _, msg := range final {
					select {
					case sub.out <- msg:
						cursor = msg.Seq
					case <-ctx.Done():
						return
					}
				}
			}
			sub.fail(chat.ErrSessionClosed)
			return
		}
	}
}
