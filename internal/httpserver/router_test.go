package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"agentchat-gateway/internal/agentrun"
	"agentchat-gateway/internal/chat"
	"agentchat-gateway/internal/handlers"
	"agentchat-gateway/internal/jobs"
	"agentchat-gateway/internal/kvs"
	"agentchat-gateway/internal/metrics"
	"agentchat-gateway/internal/session"
)

type echoAgent struct{}

func (echoAgent) SubmitOrResume(_ context.Context, _, _, query string) agentrun.Outcome {
	return agentrun.Finished("t", "r", "echo: "+query)
}

func newServer(t *testing.T) (*httptest.Server, []byte) {
	t.Helper()
	metrics.Register()

	store := kvs.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	orch := chat.NewOrchestrator(jobs.NewMachine(store, jobs.DefaultTTL), echoAgent{})
	secret := []byte("router-secret")

	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), handlers.NewChatHandler(orch, "", false), Options{
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1024,
		SessionSecret:  secret,
		StoreBackend:   string(kvs.BackendMemory),
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, secret
}

func TestHealthzReportsBackend(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "memory", resp.Header.Get("X-Store-Backend"))
}

func TestChatThroughRouter(t *testing.T) {
	srv, secret := newServer(t)

	tok, err := session.Issue(secret, "Alice", "bearer", time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/chat", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: tok})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestChatWithoutSessionIs401(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
