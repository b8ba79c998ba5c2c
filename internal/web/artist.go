package web

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/justestif/riffquest/internal/catalog"
)

// ArtistRedirect sends the search form to the page for the chosen view
// (GET /artistRedirect).
func (h *Handlers) ArtistRedirect(w http.ResponseWriter, r *http.Request) {
	artist := strings.TrimSpace(r.URL.Query().Get("artist"))
	if artist == "" {
		h.render(w, r, http.StatusOK, pageNoResults, NoResultsPageData{
			PageData: h.pageData(r, "No artist entered"),
		})
		return
	}

	target := "/artistAlbums"
	switch r.URL.Query().Get("option") {
	case "topTracks":
		target = "/artistTopTracks"
	case "details":
		target = "/showArtist"
	}

	http.Redirect(w, r, target+"?artist="+url.QueryEscape(artist), http.StatusFound)
}

// ArtistTopTracks lists the artist's most popular tracks (GET /artistTopTracks).
func (h *Handlers) ArtistTopTracks(w http.ResponseWriter, r *http.Request) {
	token, ok := h.serviceToken(w, r)
	if !ok {
		return
	}

	artist := r.URL.Query().Get("artist")
	artistID, ok := h.resolve(w, r, artist, token)
	if !ok {
		return
	}

	tracks, err := h.catalog.TopTracks(r.Context(), artistID, token)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if len(tracks) == 0 {
		h.noResults(w, r, artist, "No tracks found")
		return
	}

	name := displayArtist(tracks[0].ArtistName, artist)
	h.render(w, r, http.StatusOK, pageTopTracks, TopTracksPageData{
		PageData: h.pageData(r, "The Best Of "+name),
		Artist:   name,
		Tracks:   tracks,
	})
}

// ArtistAlbums lists every album of the artist oldest first (GET /artistAlbums).
func (h *Handlers) ArtistAlbums(w http.ResponseWriter, r *http.Request) {
	token, ok := h.serviceToken(w, r)
	if !ok {
		return
	}

	artist := r.URL.Query().Get("artist")
	artistID, ok := h.resolve(w, r, artist, token)
	if !ok {
		return
	}

	albums, err := h.catalog.Albums(r.Context(), artistID, token)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if len(albums) == 0 {
		h.noResults(w, r, artist, "No albums found")
		return
	}

	name := displayArtist(albums[0].ArtistName, artist)
	h.render(w, r, http.StatusOK, pageAlbums, AlbumsPageData{
		PageData: h.pageData(r, "All albums of "+name),
		Artist:   name,
		Albums:   albums,
	})
}

// ShowArtist renders the artist profile (GET /showArtist).
func (h *Handlers) ShowArtist(w http.ResponseWriter, r *http.Request) {
	token, ok := h.serviceToken(w, r)
	if !ok {
		return
	}

	artist := r.URL.Query().Get("artist")
	artistID, ok := h.resolve(w, r, artist, token)
	if !ok {
		return
	}

	info, err := h.catalog.ArtistInfo(r.Context(), artistID, token)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if info == nil {
		h.noResults(w, r, artist, "No artist found")
		return
	}

	name := displayArtist(info.Name, artist)
	data := ArtistPageData{
		PageData:   h.pageData(r, name+" - Artist Profile"),
		Name:       name,
		SpotifyURL: info.ExternalURLs["spotify"],
		Followers:  int(info.Followers.Count),
		Popularity: int(info.Popularity),
		Genres:     info.Genres,
	}
	if len(info.Images) > 0 {
		data.ImageURL = info.Images[0].URL
	}
	h.render(w, r, http.StatusOK, pageArtist, data)
}

type autocompleteRequest struct {
	Query string `json:"query"`
}

// Autocomplete returns up to five artist names matching the typed prefix
// (POST /autocomplete). The body is JSON {"query": "..."} or a form.
func (h *Handlers) Autocomplete(w http.ResponseWriter, r *http.Request) {
	token, ok := h.tokens.TokenOrDefer(nil)
	if !ok {
		writeJSON(w, r, http.StatusServiceUnavailable, []string{})
		return
	}

	query, err := autocompleteQuery(r)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Unreadable autocomplete request")
		writeJSON(w, r, http.StatusBadRequest, []string{})
		return
	}
	if query == "" {
		writeJSON(w, r, http.StatusOK, []string{})
		return
	}

	names, err := h.catalog.SearchArtistNames(r.Context(), query, token)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("query", query).Msg("Artist suggestions failed")
		writeJSON(w, r, http.StatusBadGateway, []string{})
		return
	}
	writeJSON(w, r, http.StatusOK, names)
}

func autocompleteQuery(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req autocompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.Wrap(err, "decoding autocomplete body")
		}
		return strings.TrimSpace(req.Query), nil
	}
	return strings.TrimSpace(r.FormValue("query")), nil
}

// resolve maps the typed artist name to an id, rendering the not-found or
// error page itself when that fails.
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, artist, token string) (string, bool) {
	artistID, err := h.catalog.ResolveArtistID(r.Context(), artist, token)
	switch {
	case errors.Is(err, catalog.ErrArtistNotFound):
		h.noResults(w, r, artist, "Artist not found")
		return "", false
	case err != nil:
		h.serverError(w, r, err)
		return "", false
	}
	return artistID, true
}

func (h *Handlers) noResults(w http.ResponseWriter, r *http.Request, artist, title string) {
	h.render(w, r, http.StatusOK, pageNoResults, NoResultsPageData{
		PageData: h.pageData(r, title),
		Artist:   displayArtist(artist, ""),
	})
}

// displayArtist picks the first non-empty name.
func displayArtist(names ...string) string {
	for _, n := range names {
		if n != "" {
			return n
		}
	}
	return "Unknown Artist"
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Writing JSON response failed")
	}
}
