package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/wischat/backend/internal/service/chat"
	"github.com/wischat/backend/internal/service/relay"
	"github.com/wischat/backend/internal/store"
)

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 24*time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rl := relay.New(st, 50*time.Millisecond)
	svc := chatservice.NewService(st, rl, chatservice.Options{
		MaxBodyLength: 4000,
		IdleTimeout:   30 * time.Minute,
	})
	handler := New(svc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func postMessage(t *testing.T, r *chi.Mux, sessionID string, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestPostMessageCreatesSession(t *testing.T) {
	r := setupRouter(t)

	resp := postMessage(t, r, "s1", map[string]string{
		"senderId":       "v1",
		"senderType":     "visitor",
		"body":           "Hello",
		"idempotencyKey": "k1",
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var got struct {
		ID    string `json:"id"`
		Seq   int64  `json:"seq"`
		Dedup bool   `json:"dedup"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", got.Seq)
	}
	if got.Dedup {
		t.Fatal("first message must not be a dedup hit")
	}
}

func TestTwoPartyOrderingAndReplay(t *testing.T) {
	r := setupRouter(t)

	first := postMessage(t, r, "s1", map[string]string{
		"senderId": "v1", "senderType": "visitor", "body": "Hello", "idempotencyKey": "k1",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := postMessage(t, r, "s1", map[string]string{
		"senderId": "a1", "senderType": "admin", "body": "Hi there", "idempotencyKey": "k2",
	})
	if second.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", second.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/messages?after=0", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var batch struct {
		Messages []struct {
			Seq  int64  `json:"seq"`
			Body string `json:"body"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(batch.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(batch.Messages))
	}
	if batch.Messages[0].Seq != 1 || batch.Messages[1].Seq != 2 {
		t.Fatalf("expected seq order [1,2], got [%d,%d]", batch.Messages[0].Seq, batch.Messages[1].Seq)
	}

	replay := postMessage(t, r, "s1", map[string]string{
		"senderId": "v1", "senderType": "visitor", "body": "Hello", "idempotencyKey": "k1",
	})
	var got struct {
		Seq   int64 `json:"seq"`
		Dedup bool  `json:"dedup"`
	}
	if err := json.Unmarshal(replay.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Seq != 1 {
		t.Fatalf("replayed message must keep seq 1, got %d", got.Seq)
	}
	if !got.Dedup {
		t.Fatal("replayed message must be flagged as dedup")
	}
}

func TestPostMessageValidationFailure(t *testing.T) {
	r := setupRouter(t)

	resp := postMessage(t, r, "s1", map[string]string{
		"senderId": "v1", "senderType": "visitor", "body": "",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	resp = postMessage(t, r, "s1", map[string]string{
		"senderId": "v1", "senderType": "robot", "body": "hi",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPostMessageClosedSession(t *testing.T) {
	r := setupRouter(t)

	if resp := postMessage(t, r, "s1", map[string]string{
		"senderId": "v1", "senderType": "visitor", "body": "Hello",
	}); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	closeReq := httptest.NewRequest(http.MethodPost, "/sessions/s1/close", nil)
	closeResp := httptest.NewRecorder()
	r.ServeHTTP(closeResp, closeReq)
	if closeResp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", closeResp.Code)
	}

	resp := postMessage(t, r, "s1", map[string]string{
		"senderId": "v1", "senderType": "visitor", "body": "still there?",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for closed session, got %d", resp.Code)
	}

	var body struct {
		Terminal bool `json:"terminal"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Terminal {
		t.Fatal("closed-session error must carry the terminal flag")
	}
}

func TestGetMessagesUnknownSessionIsEmpty(t *testing.T) {
	r := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing/messages?after=0", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var batch struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(batch.Messages) != 0 {
		t.Fatalf("expected empty batch, got %d messages", len(batch.Messages))
	}
}

func TestListSessions(t *testing.T) {
	r := setupRouter(t)

	postMessage(t, r, "s1", map[string]string{"senderId": "v1", "senderType": "visitor", "body": "Hello"})
	postMessage(t, r, "s2", map[string]string{"senderId": "v2", "senderType": "visitor", "body": "Hey"})

	req := httptest.NewRequest(http.MethodGet, "/sessions?status=active", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(body.Sessions))
	}
}
