package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"agentchat-gateway/internal/chat"
	"agentchat-gateway/internal/identity"
	"agentchat-gateway/internal/session"
	"agentchat-gateway/pkg/logging/logging"
)

// Answerer is the part of chat.Orchestrator the handler needs.
type Answerer interface {
	Handle(ctx context.Context, principal, message, credential string) (chat.Answer, error)
}

type chatRequest struct {
	Message json.RawMessage `json:"message"`
}

// text returns the message when it is a JSON string. Anything else,
// including a missing field, reads as empty.
func (r chatRequest) text() string {
	var s string
	if err := json.Unmarshal(r.Message, &s); err != nil {
		return ""
	}
	return s
}

type chatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ChatHandler holds dependencies for POST /chat and GET /logout.
type ChatHandler struct {
	Chat         Answerer
	CookieName   string
	SecureCookie bool
}

func NewChatHandler(a Answerer, cookieName string, secure bool) *ChatHandler {
	return &ChatHandler{Chat: a, CookieName: cookieName, SecureCookie: secure}
}

// ChatMessage handles POST /chat. The caller's identity and bearer token come from
// the session, never from the request body.
func (h *ChatHandler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	sess, ok := session.FromContext(ctx)
	if !ok || sess.AccessToken == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Not authenticated"})
		return
	}
	if sess.Name == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "User not found in session"})
		return
	}

	ctx = logging.WithFields(ctx, zap.String("user_id", string(identity.NewUserIdentity(sess.Name))))
	logger = logging.L(ctx)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	ans, err := h.Chat.Handle(ctx, sess.Name, req.text(), sess.AccessToken)
	switch {
	case errors.Is(err, chat.ErrBadRequest):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "No message provided"})
		return
	case errors.Is(err, chat.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Not authenticated"})
		return
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Client gone or router timeout; the shared work carries on and is stored.
		logger.Info("chat request abandoned by caller", zap.Error(err))
		return
	case err != nil:
		logger.Error("chat_handle_error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	logger.Info("chat_decision",
		zap.String("source", string(ans.Source)),
		zap.Bool("cache_hit", ans.Source == chat.SourceCache),
		zap.Duration("total_latency", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, chatResponse{Response: ans.Text})
}

// Logout handles GET /logout by dropping the session cookie.
func (h *ChatHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session.Clear(w, h.CookieName, h.SecureCookie)
	http.Redirect(w, r, "/", http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
