package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/riffquest/internal/catalog"
	"github.com/justestif/riffquest/internal/db"
)

const (
	stateCookieName = "oauth_state"
	loadingRefresh  = 2 // seconds
)

// TokenSource hands out the service token, or reports it is not ready yet.
type TokenSource interface {
	TokenOrDefer(onNotReady func()) (string, bool)
}

// Catalog is the artist data the pages are built from.
type Catalog interface {
	ResolveArtistID(ctx context.Context, name, token string) (string, error)
	TopTracks(ctx context.Context, artistID, token string) ([]catalog.Track, error)
	Albums(ctx context.Context, artistID, token string) ([]catalog.Album, error)
	ArtistInfo(ctx context.Context, artistID, token string) (*spotify.FullArtist, error)
	SearchArtistNames(ctx context.Context, query, token string) ([]string, error)
}

// Authenticator runs the user authorization code flow.
type Authenticator interface {
	AuthURL(state string, opts ...oauth2.AuthCodeOption) string
	Token(ctx context.Context, state string, r *http.Request, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// ProfileFetcher loads the profile of the user owning a token.
type ProfileFetcher interface {
	CurrentUser(ctx context.Context, token string) (*spotify.PrivateUser, error)
}

// UserStore persists logged-in users. Nil when running without a database.
type UserStore interface {
	Upsert(ctx context.Context, user *db.User) error
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	tokens     TokenSource
	catalog    Catalog
	auth       Authenticator
	profiles   ProfileFetcher
	users      UserStore
	sessions   SessionManager
	templates  *Templates
	production bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	tokens TokenSource,
	cat Catalog,
	auth Authenticator,
	profiles ProfileFetcher,
	users UserStore,
	sessions SessionManager,
	templates *Templates,
	production bool,
) *Handlers {
	return &Handlers{
		tokens:     tokens,
		catalog:    cat,
		auth:       auth,
		profiles:   profiles,
		users:      users,
		sessions:   sessions,
		templates:  templates,
		production: production,
	}
}

// Home handles the home page (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.serviceToken(w, r); !ok {
		return
	}

	data := HomePageData{PageData: h.pageData(r, "RiffQuest")}
	data.Authenticated = data.User != nil

	h.render(w, r, http.StatusOK, pageHome, data)
}

// Login initiates the Spotify OAuth flow (GET /login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	// Generate state for CSRF protection
	state, err := generateOAuthState()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	// Store state in cookie for validation on callback
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from Spotify (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	// Verify state
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		http.Error(w, "Missing state cookie", http.StatusBadRequest)
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	// Check for error from Spotify
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		logger.Warn().Str("error", errMsg).Msg("Spotify authorization denied")
		http.Error(w, "Spotify auth error: "+errMsg, http.StatusBadRequest)
		return
	}

	// Exchange code for token
	token, err := h.auth.Token(r.Context(), state, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	profile, err := h.profiles.CurrentUser(r.Context(), token.AccessToken)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	user := userFromProfile(profile, token)
	if h.users != nil {
		if err := h.users.Upsert(r.Context(), user); err != nil {
			h.serverError(w, r, err)
			return
		}
	}

	session, err := h.sessions.Create(r.Context(), token, user)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	logger.Info().Str("spotify_user_id", user.SpotifyUserID).Msg("User logged in")

	h.sessions.SetCookie(w, session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout clears the session and redirects to home (POST /logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessions.GetFromRequest(r); session != nil {
		h.sessions.Delete(r.Context(), session.ID)
	}

	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// NotFound renders the nothing-found page for unknown routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, pageNoResults, NoResultsPageData{
		PageData: h.pageData(r, "Nothing found"),
	})
}

// serviceToken returns the service token, or renders the loading page and
// reports false when none is available yet.
func (h *Handlers) serviceToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	return h.tokens.TokenOrDefer(func() {
		h.render(w, r, http.StatusOK, pageLoading, LoadingPageData{
			PageData:       h.pageData(r, "Loading..."),
			RefreshSeconds: loadingRefresh,
			RefreshURL:     r.URL.RequestURI(),
		})
	})
}

func (h *Handlers) pageData(r *http.Request, title string) PageData {
	data := PageData{Title: title, CurrentPath: r.URL.Path}
	if session := h.sessions.GetFromRequest(r); session != nil {
		data.User = &UserData{ID: session.SpotifyUserID, Name: session.UserName}
	}
	return data
}

// render executes a page into a buffer first so a template failure can still
// produce a clean error response.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	var buf bytes.Buffer
	if err := h.templates.Render(&buf, page, data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("page", page).Msg("Rendering template failed")
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// serverError logs err and renders the error page. The message is only shown
// outside production.
func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")

	data := ErrorPageData{PageData: h.pageData(r, "Something went wrong")}
	if !h.production {
		data.Message = err.Error()
	}
	h.render(w, r, http.StatusInternalServerError, pageError, data)
}

func userFromProfile(profile *spotify.PrivateUser, token *oauth2.Token) *db.User {
	user := &db.User{
		SpotifyUserID: profile.ID,
		Followers:     int(profile.Followers.Count),
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
	}
	if profile.DisplayName != "" {
		name := profile.DisplayName
		user.DisplayName = &name
	}
	switch {
	case token.ExpiresIn > 0:
		user.TokenExpiresIn = int(token.ExpiresIn)
	case !token.Expiry.IsZero():
		user.TokenExpiresIn = int(time.Until(token.Expiry).Round(time.Second).Seconds())
	}
	return user
}

// generateOAuthState creates a random state string for OAuth.
func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
