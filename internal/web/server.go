package web

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/justestif/riffquest/internal/config"
	"github.com/justestif/riffquest/internal/db"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Hour
)

// TokenManager is the service token lifecycle driven by the server.
type TokenManager interface {
	TokenSource
	Start(ctx context.Context)
	Stop()
}

// ServerConfig holds server configuration and collaborators.
type ServerConfig struct {
	Config      *config.Config
	TemplatesFS fs.FS
	StaticFS    fs.FS
	Tokens      TokenManager
	Catalog     Catalog
	Profiles    ProfileFetcher
	Database    *db.DB // nil keeps sessions in memory
	Logger      zerolog.Logger
}

// Server is the HTTP server for the web application.
type Server struct {
	router   chi.Router
	server   *http.Server
	tokens   TokenManager
	sessions SessionManager
	handlers *Handlers
	logger   zerolog.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	// Create Spotify authenticator for user logins
	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.Config.Spotify.ClientID),
		spotifyauth.WithClientSecret(cfg.Config.Spotify.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.Config.RedirectURL()),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopePlaylistReadCollaborative,
			spotifyauth.ScopeUserTopRead,
			spotifyauth.ScopeUserLibraryRead,
		),
	)

	templates, err := NewTemplates(cfg.TemplatesFS)
	if err != nil {
		return nil, errors.Wrap(err, "loading templates")
	}

	var (
		sessions SessionManager
		users    UserStore
	)
	if cfg.Database != nil {
		sessions = NewDBSessionStore(cfg.Database)
		users = cfg.Database.Users()
	} else {
		sessions = NewSessionStore()
	}

	handlers := NewHandlers(
		cfg.Tokens,
		cfg.Catalog,
		auth,
		cfg.Profiles,
		users,
		sessions,
		templates,
		cfg.Config.IsProduction(),
	)

	s := &Server{
		router:   chi.NewRouter(),
		tokens:   cfg.Tokens,
		sessions: sessions,
		handlers: handlers,
		logger:   cfg.Logger.With().Str("component", "http").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.StaticFS)

	s.server = &http.Server{
		Addr:         cfg.Config.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // album pages fan out to many upstream calls
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(staticFS fs.FS) {
	// Static files
	fileServer := http.FileServer(http.FS(staticFS))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// Pages
	s.router.Get("/", s.handlers.Home)
	s.router.Get("/artistRedirect", s.handlers.ArtistRedirect)
	s.router.Get("/artistTopTracks", s.handlers.ArtistTopTracks)
	s.router.Get("/artistAlbums", s.handlers.ArtistAlbums)
	s.router.Get("/showArtist", s.handlers.ShowArtist)
	s.router.Post("/autocomplete", s.handlers.Autocomplete)

	// Auth routes
	s.router.Get("/login", s.handlers.Login)
	s.router.Get("/callback", s.handlers.Callback)
	s.router.Post("/logout", s.handlers.Logout)

	s.router.NotFound(s.handlers.NotFound)
}

// Run fetches the first service token in the background, serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Pages render the loading screen until the first token arrives.
	go s.tokens.Start(ctx)
	defer s.tokens.Stop()

	go s.sweepSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("Starting server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serving http")
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// sweepSessions periodically drops expired sessions.
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.sessions.DeleteExpired(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("Sweeping expired sessions failed")
				continue
			}
			if removed > 0 {
				s.logger.Debug().Int64("removed", removed).Msg("Swept expired sessions")
			}
		}
	}
}
