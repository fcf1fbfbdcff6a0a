package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/config"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/server"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/stats"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

const metricRegistrations = "NumRegistrations"

// PagePulseApp serves the REST API and the realtime websocket endpoint.
type PagePulseApp struct {
	log             *log.Logger
	db              database.Repository
	mux             *http.Server
	cs              *server.ChatServer
	stats           stats.StatsProvider
	signingKey      []byte
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewPagePulseApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository, su stats.StatsProvider, cfg *config.Config) *PagePulseApp {
	s := &PagePulseApp{
		log:             logger,
		db:              db,
		cs:              cs,
		stats:           su,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}
	if su != nil {
		su.RegisterMetric(metricRegistrations)
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/users", s.authMiddleware(s.searchUsers))
	mux.HandleFunc("GET /api/users/{id}", s.authMiddleware(s.getUser))
	mux.HandleFunc("GET /api/friends", s.authMiddleware(s.listFriends))
	mux.HandleFunc("GET /api/friends/requests", s.authMiddleware(s.listFriendRequests))
	mux.HandleFunc("POST /api/friends/requests", s.authMiddleware(s.createFriendRequest))
	mux.HandleFunc("POST /api/friends/requests/{id}/accept", s.authMiddleware(s.acceptFriendRequest))
	mux.HandleFunc("POST /api/friends/requests/{id}/reject", s.authMiddleware(s.rejectFriendRequest))
	mux.HandleFunc("POST /api/invitations", s.authMiddleware(s.createInvitation))
	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.authMiddleware(s.deleteNotification))

	mux.HandleFunc("GET /api/books/{id}", s.authMiddleware(s.getBook))
	mux.HandleFunc("GET /api/books/{id}/pages", s.authMiddleware(s.getPages))
	mux.HandleFunc("GET /api/books/{id}/status", s.authMiddleware(s.getIngestionStatus))
	mux.HandleFunc("GET /api/books/{id}/messages", s.authMiddleware(s.getBookMessages))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.authMiddleware(s.getConversationMessages))

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *PagePulseApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *PagePulseApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
