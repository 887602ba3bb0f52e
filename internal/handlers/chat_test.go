package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentchat-gateway/internal/agentrun"
	"agentchat-gateway/internal/chat"
	"agentchat-gateway/internal/identity"
	"agentchat-gateway/internal/jobs"
	"agentchat-gateway/internal/kvs"
	"agentchat-gateway/internal/session"
)

var testSecret = []byte("handler-test-secret")

type fakeAgent struct {
	outcome agentrun.Outcome
	calls   int
	lastTok string
}

func (f *fakeAgent) SubmitOrResume(_ context.Context, credential, _, _ string) agentrun.Outcome {
	f.calls++
	f.lastTok = credential
	return f.outcome
}

type env struct {
	handler http.Handler
	store   *kvs.MemoryStore
	agent   *fakeAgent
}

func newEnv(t *testing.T, outcome agentrun.Outcome) *env {
	t.Helper()
	store := kvs.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	agent := &fakeAgent{outcome: outcome}
	orch := chat.NewOrchestrator(jobs.NewMachine(store, jobs.DefaultTTL), agent)
	h := NewChatHandler(orch, "", false)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", h.ChatMessage)
	mux.HandleFunc("GET /logout", h.Logout)

	return &env{
		handler: session.Middleware(testSecret, "")(mux),
		store:   store,
		agent:   agent,
	}
}

func (e *env) post(t *testing.T, body string, name, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		cookie, err := session.Issue(testSecret, name, token, time.Hour)
		if err != nil {
			t.Fatalf("issue session: %v", err)
		}
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: cookie})
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestChatEndToEnd(t *testing.T) {
	e := newEnv(t, agentrun.Finished("th", "run", "100"))

	rr := e.post(t, `{"message":"What is revenue?"}`, "U", "bearer-U")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode(t, rr)["response"]; got != "100" {
		t.Fatalf("expected response 100, got %q", got)
	}
	if e.agent.lastTok != "bearer-U" {
		t.Fatalf("session token not forwarded, got %q", e.agent.lastTok)
	}

	key, err := identity.NewJobKey(identity.NewUserIdentity("U"), "What is revenue?")
	if err != nil {
		t.Fatalf("job key: %v", err)
	}
	fields, err := e.store.GetFields(context.Background(), key.String())
	if err != nil {
		t.Fatalf("get fields: %v", err)
	}
	if fields["status"] != "completed" || fields["response"] != "100" {
		t.Fatalf("unexpected stored record: %v", fields)
	}

	// Repeat is served from the stored record.
	rr = e.post(t, `{"message":"What is revenue?"}`, "U", "bearer-U")
	if rr.Code != http.StatusOK || decode(t, rr)["response"] != "100" {
		t.Fatalf("unexpected repeat response: %d %s", rr.Code, rr.Body.String())
	}
	if e.agent.calls != 1 {
		t.Fatalf("expected 1 agent call, got %d", e.agent.calls)
	}
}

func TestChatErrorsAsContent(t *testing.T) {
	e := newEnv(t, agentrun.Failed("Error querying agent: boom"))

	rr := e.post(t, `{"message":"q"}`, "U", "tok")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode(t, rr)["response"]; got != "Error querying agent: boom" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestChatRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		user       string
		token      string
		wantStatus int
		wantError  string
	}{
		{"no session", `{"message":"hi"}`, "", "", http.StatusUnauthorized, "Not authenticated"},
		{"no user in session", `{"message":"hi"}`, "", "tok", http.StatusUnauthorized, "User not found in session"},
		{"empty message", `{"message":""}`, "U", "tok", http.StatusUnprocessableEntity, "No message provided"},
		{"missing message", `{}`, "U", "tok", http.StatusUnprocessableEntity, "No message provided"},
		{"null message", `{"message":null}`, "U", "tok", http.StatusUnprocessableEntity, "No message provided"},
		{"numeric message", `{"message":123}`, "U", "tok", http.StatusUnprocessableEntity, "No message provided"},
		{"object message", `{"message":{"text":"hi"}}`, "U", "tok", http.StatusUnprocessableEntity, "No message provided"},
		{"invalid json", `{"message":`, "U", "tok", http.StatusBadRequest, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, agentrun.Finished("t", "r", "x"))

			rr := e.post(t, tt.body, tt.user, tt.token)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if got := decode(t, rr)["error"]; got != tt.wantError {
				t.Fatalf("expected error %q, got %q", tt.wantError, got)
			}
			if e.agent.calls != 0 {
				t.Fatalf("agent must not be called")
			}
		})
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newEnv(t, agentrun.Finished("t", "r", "x"))

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logout", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != session.DefaultCookieName || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected cleared session cookie, got %v", cookies)
	}
}
