package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"agentchat-gateway/internal/handlers"
	"agentchat-gateway/internal/metrics"
	"agentchat-gateway/internal/middleware"
	"agentchat-gateway/internal/session"
)

type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	SessionSecret  []byte
	CookieName     string
	StoreBackend   string
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, chatHandler *handlers.ChatHandler, opts Options) {
	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Group(func(r chi.Router) {
		r.Use(session.Middleware(opts.SessionSecret, opts.CookieName))
		r.Post("/chat", chatHandler.ChatMessage)
		r.Get("/logout", chatHandler.Logout)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Store-Backend", opts.StoreBackend)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
