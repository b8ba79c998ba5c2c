// Package catalog turns raw Spotify catalog responses into the artist, track
// and album views the web front-end renders.
package catalog

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
)

const (
	// DefaultMarket restricts top tracks when no market is configured.
	DefaultMarket = "US"

	// DefaultConcurrency bounds the per-album duration requests.
	DefaultConcurrency = 8

	albumPageSize   = 50
	suggestionLimit = 5
)

// ErrArtistNotFound is returned when a search yields no acceptable match.
var ErrArtistNotFound = errors.New("artist not found")

// Source is the upstream catalog. Every call is made with the given token.
type Source interface {
	SearchArtists(ctx context.Context, query string, limit int, token string) ([]spotify.FullArtist, error)
	Artist(ctx context.Context, id, token string) (*spotify.FullArtist, error)
	TopTracks(ctx context.Context, artistID, market, token string) ([]spotify.FullTrack, error)
	AlbumPage(ctx context.Context, artistID string, limit, offset int, token string) ([]spotify.SimpleAlbum, error)
	AlbumTrackPage(ctx context.Context, albumID string, limit, offset int, token string) ([]spotify.SimpleTrack, error)
}

// Artist is the identity resolved from a free-text search.
type Artist struct {
	ID         string
	Name       string
	Popularity int
	Raw        *spotify.FullArtist
}

// Track is a top track ready for display. ImageURL is empty when the album
// has no artwork.
type Track struct {
	ID          string
	Name        string
	ArtistName  string
	AlbumName   string
	ReleaseYear string
	ImageURL    string
	ExternalURL string
	Popularity  int
}

// Album is a full-length release with its computed running time.
type Album struct {
	ID            string
	Name          string
	ArtistName    string
	ReleaseYear   string
	ImageURL      string
	ExternalURL   string
	Popularity    int
	TotalDuration string
}

// Aggregator composes upstream calls into normalized views.
type Aggregator struct {
	source      Source
	market      string
	concurrency int
	logger      zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMarket sets the market used for top tracks.
func WithMarket(market string) Option {
	return func(a *Aggregator) {
		if market != "" {
			a.market = market
		}
	}
}

// WithConcurrency bounds how many album track listings are fetched at once.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l.With().Str("component", "catalog").Logger()
	}
}

// New creates an Aggregator reading from source.
func New(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:      source,
		market:      DefaultMarket,
		concurrency: DefaultConcurrency,
		logger:      zlog.Logger.With().Str("component", "catalog").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ResolveArtist searches for name and returns the top hit, provided it
// plausibly matches what was typed. Otherwise ErrArtistNotFound.
func (a *Aggregator) ResolveArtist(ctx context.Context, name, token string) (Artist, error) {
	artists, err := a.source.SearchArtists(ctx, name, 1, token)
	if err != nil {
		return Artist{}, errors.Wrap(err, "resolving artist")
	}
	if len(artists) == 0 {
		return Artist{}, ErrArtistNotFound
	}

	top := artists[0]
	if !Matches(name, top.Name) {
		a.logger.Debug().
			Str("query", name).
			Str("candidate", top.Name).
			Msg("Rejected top search result")
		return Artist{}, ErrArtistNotFound
	}

	return Artist{
		ID:         top.ID.String(),
		Name:       top.Name,
		Popularity: int(top.Popularity),
		Raw:        &top,
	}, nil
}

// ResolveArtistID is ResolveArtist reduced to the artist id.
func (a *Aggregator) ResolveArtistID(ctx context.Context, name, token string) (string, error) {
	artist, err := a.ResolveArtist(ctx, name, token)
	if err != nil {
		return "", err
	}
	return artist.ID, nil
}

// TopTracks returns the artist's most popular tracks in upstream order.
func (a *Aggregator) TopTracks(ctx context.Context, artistID, token string) ([]Track, error) {
	raw, err := a.source.TopTracks(ctx, artistID, a.market, token)
	if err != nil {
		return nil, errors.Wrap(err, "fetching top tracks")
	}

	tracks := make([]Track, 0, len(raw))
	for _, t := range raw {
		tracks = append(tracks, convertTrack(t))
	}
	return tracks, nil
}

// ArtistInfo returns the artist profile as decoded from upstream.
func (a *Aggregator) ArtistInfo(ctx context.Context, artistID, token string) (*spotify.FullArtist, error) {
	artist, err := a.source.Artist(ctx, artistID, token)
	if err != nil {
		return nil, errors.Wrap(err, "fetching artist info")
	}
	return artist, nil
}

func convertTrack(t spotify.FullTrack) Track {
	return Track{
		ID:          t.ID.String(),
		Name:        t.Name,
		ArtistName:  firstArtist(t.Artists),
		AlbumName:   t.Album.Name,
		ReleaseYear: releaseYear(t.Album.ReleaseDate),
		ImageURL:    trackImage(t.Album.Images),
		ExternalURL: t.ExternalURLs["spotify"],
		Popularity:  int(t.Popularity),
	}
}

// trackImage prefers the third image (the smallest thumbnail Spotify
// usually returns) and falls back to the first, largest one.
func trackImage(images []spotify.Image) string {
	switch {
	case len(images) > 2:
		return images[2].URL
	case len(images) > 0:
		return images[0].URL
	default:
		return ""
	}
}

func firstArtist(artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

// releaseYear extracts the year from a date at year, month or day precision.
func releaseYear(date string) string {
	if len(date) < 4 {
		return date
	}
	return date[:4]
}
