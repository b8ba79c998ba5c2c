package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient serves handler under a fake API root.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(WithBaseURL(server.URL+"/"), WithHTTPClient(server.Client()))
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestClient_SearchArtists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "Björk", r.URL.Query().Get("q"))
		assert.Equal(t, "artist", r.URL.Query().Get("type"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		writeJSON(w, `{"artists":{"items":[{"id":"a1","name":"Björk","popularity":70}]}}`)
	})

	artists, err := client.SearchArtists(context.Background(), "Björk", 1, "tok")
	require.NoError(t, err)
	require.Len(t, artists, 1)
	assert.Equal(t, "a1", artists[0].ID.String())
	assert.Equal(t, "Björk", artists[0].Name)
	assert.Equal(t, 70, int(artists[0].Popularity))
}

func TestClient_SearchArtistsNoArtistsKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{}`)
	})

	artists, err := client.SearchArtists(context.Background(), "nobody", 5, "tok")
	require.NoError(t, err)
	assert.Empty(t, artists)
}

func TestClient_AlbumPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/artists/a1/albums", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "album", q.Get("include_groups"))
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, "100", q.Get("offset"))
		writeJSON(w, `{"items":[{"id":"al1","name":"Debut","release_date":"1993-07-05"}]}`)
	})

	albums, err := client.AlbumPage(context.Background(), "a1", 50, 100, "tok")
	require.NoError(t, err)
	require.Len(t, albums, 1)
	assert.Equal(t, "Debut", albums[0].Name)
	assert.Equal(t, "1993-07-05", albums[0].ReleaseDate)
}

func TestClient_AlbumTrackPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/albums/al1/tracks", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("offset"))
		writeJSON(w, `{"items":[{"id":"t1","duration_ms":1000},{"id":"t2","duration_ms":2500}]}`)
	})

	tracks, err := client.AlbumTrackPage(context.Background(), "al1", 50, 0, "tok")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, 2500, int(tracks[1].Duration))
}

func TestClient_ArtistAndTopTracks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/artists/a1":
			writeJSON(w, `{"id":"a1","name":"Björk","genres":["art pop"],"followers":{"total":42}}`)
		case "/artists/a1/top-tracks":
			writeJSON(w, `{"tracks":[{"id":"t1","name":"Joga","popularity":61,"album":{"name":"Homogenic"}}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	artist, err := client.Artist(context.Background(), "a1", "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"art pop"}, artist.Genres)
	assert.Equal(t, 42, int(artist.Followers.Count))

	tracks, err := client.TopTracks(context.Background(), "a1", "US", "tok")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "Homogenic", tracks[0].Album.Name)
}

func TestClient_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"status":401,"message":"The access token expired"}}`))
	})

	_, err := client.Artist(context.Background(), "a1", "stale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getting artist a1")
}

func TestClient_CurrentUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		writeJSON(w, `{"id":"u1","display_name":"Listener","followers":{"total":3}}`)
	})

	user, err := client.CurrentUser(context.Background(), "user-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Listener", user.DisplayName)
}
