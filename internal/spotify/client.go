// Package spotify provides a wrapper around the Spotify Web API.
//
// Every call carries the bearer token it should be made with, so a single
// Client serves both the service-level token and per-user tokens.
package spotify

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 15 * time.Second

// Client issues catalog and profile requests against the Spotify Web API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. The URL must end
// with a slash.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets the transport used underneath the bearer token.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a new Spotify client wrapper.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// api returns a zmb3 client that authenticates with the given token.
func (c *Client) api(ctx context.Context, token string) *spotify.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	var opts []spotify.ClientOption
	if c.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(c.baseURL))
	}
	return spotify.New(hc, opts...)
}

// SearchArtists returns up to limit artists matching query, best match first.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int, token string) ([]spotify.FullArtist, error) {
	result, err := c.api(ctx, token).Search(ctx, query, spotify.SearchTypeArtist, spotify.Limit(limit))
	if err != nil {
		return nil, errors.Wrapf(err, "searching artists for %q", query)
	}
	if result == nil || result.Artists == nil {
		return nil, nil
	}
	return result.Artists.Artists, nil
}

// Artist fetches the full profile of one artist.
func (c *Client) Artist(ctx context.Context, id, token string) (*spotify.FullArtist, error) {
	artist, err := c.api(ctx, token).GetArtist(ctx, spotify.ID(id))
	if err != nil {
		return nil, errors.Wrapf(err, "getting artist %s", id)
	}
	return artist, nil
}

// TopTracks fetches an artist's most popular tracks in the given market.
func (c *Client) TopTracks(ctx context.Context, artistID, market, token string) ([]spotify.FullTrack, error) {
	tracks, err := c.api(ctx, token).GetArtistsTopTracks(ctx, spotify.ID(artistID), market)
	if err != nil {
		return nil, errors.Wrapf(err, "getting top tracks of %s", artistID)
	}
	return tracks, nil
}

// AlbumPage fetches one page of an artist's full-length albums.
func (c *Client) AlbumPage(ctx context.Context, artistID string, limit, offset int, token string) ([]spotify.SimpleAlbum, error) {
	page, err := c.api(ctx, token).GetArtistAlbums(ctx, spotify.ID(artistID),
		[]spotify.AlbumType{spotify.AlbumTypeAlbum},
		spotify.Limit(limit),
		spotify.Offset(offset),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "getting albums of %s (offset %d)", artistID, offset)
	}
	return page.Albums, nil
}

// AlbumTrackPage fetches one page of an album's track listing.
func (c *Client) AlbumTrackPage(ctx context.Context, albumID string, limit, offset int, token string) ([]spotify.SimpleTrack, error) {
	page, err := c.api(ctx, token).GetAlbumTracks(ctx, spotify.ID(albumID),
		spotify.Limit(limit),
		spotify.Offset(offset),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "getting tracks of album %s (offset %d)", albumID, offset)
	}
	return page.Tracks, nil
}

// CurrentUser returns the profile of the user who owns token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*spotify.PrivateUser, error) {
	user, err := c.api(ctx, token).CurrentUser(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting current user")
	}
	return user, nil
}
