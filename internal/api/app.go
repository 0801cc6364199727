package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"sparkchat/internal/config"
	"sparkchat/internal/coordinator"
	"sparkchat/internal/database"
)

type SparkChatApp struct {
	log             *log.Logger
	db              database.SparkChatRepository
	mux             *http.Server
	cd              *coordinator.Coordinator
	signingKey      []byte
	allowedOrigins  []string
	pageSizeMax     int
	maxContentBytes int
	authLimiter     RateLimiter
	msgLimiter      RateLimiter
}

func NewSparkChatApp(mux *http.ServeMux, logger *log.Logger, cd *coordinator.Coordinator, db database.SparkChatRepository, cfg *config.Config) *SparkChatApp {
	s := &SparkChatApp{
		log:             logger,
		db:              db,
		cd:              cd,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		pageSizeMax:     cfg.PageSizeMax,
		maxContentBytes: cfg.MaxContentBytes,
		authLimiter:     NewKeyRateLimiter(5, time.Minute, 5, 10*time.Minute),
		msgLimiter:      NewKeyRateLimiter(10, time.Second, 20, 5*time.Minute),
	}

	mux.HandleFunc("POST /api/auth/register", s.rateLimitByIP(s.authLimiter, s.createAccount))
	mux.HandleFunc("POST /api/auth/login", s.rateLimitByIP(s.authLimiter, s.login))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/auth/me", s.authMiddleware(s.me))
	mux.Handle("PUT /api/auth/profile", s.authMiddleware(s.updateProfile))
	mux.Handle("PUT /api/auth/chat-preference", s.authMiddleware(s.updateChatPreference))

	mux.Handle("GET /api/chats", s.authMiddleware(s.listSessions))
	mux.Handle("GET /api/chats/{id}", s.authMiddleware(s.getSession))
	mux.Handle("GET /api/chats/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/chats/{id}/messages/search", s.authMiddleware(s.searchMessages))
	mux.Handle("POST /api/chats/{id}/messages", s.authMiddleware(s.rateLimitByUser(s.msgLimiter, s.postMessage)))
	mux.Handle("PUT /api/chats/{id}/end", s.authMiddleware(s.endSession))
	mux.Handle("PUT /api/chats/{id}/archive", s.authMiddleware(s.archiveSession))
	mux.Handle("PUT /api/chats/{id}/unarchive", s.authMiddleware(s.unarchiveSession))

	mux.Handle("PUT /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /api/messages/{id}/reactions", s.authMiddleware(s.addReaction))

	mux.Handle("POST /api/chat/block/{userId}", s.authMiddleware(s.blockUser))
	mux.Handle("POST /api/chat/unblock/{userId}", s.authMiddleware(s.unblockUser))
	mux.Handle("POST /api/chat/create-session", s.authMiddleware(s.createSession))
	mux.Handle("POST /api/chat/start-search", s.authMiddleware(s.startSearch))

	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *SparkChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *SparkChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
