package catalog

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/sync/errgroup"
)

// Albums returns every full-length album of the artist, oldest first, each
// with its total running time. A failed track listing marks only that album
// as UnknownDuration.
func (a *Aggregator) Albums(ctx context.Context, artistID, token string) ([]Album, error) {
	var raw []spotify.SimpleAlbum
	for offset := 0; ; offset += albumPageSize {
		page, err := a.source.AlbumPage(ctx, artistID, albumPageSize, offset, token)
		if err != nil {
			return nil, errors.Wrap(err, "fetching albums")
		}
		raw = append(raw, page...)
		if len(page) < albumPageSize {
			break
		}
	}

	albums := make([]Album, len(raw))
	for i, r := range raw {
		albums[i] = convertAlbum(r)
	}

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range albums {
		g.Go(func() error {
			duration, err := a.AlbumDuration(ctx, albums[i].ID, token)
			if err != nil {
				a.logger.Warn().Err(err).
					Str("album_id", albums[i].ID).
					Msg("Album duration unavailable")
				duration = UnknownDuration
			}
			albums[i].TotalDuration = duration
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "fetching albums")
	}

	slices.SortStableFunc(albums, func(x, y Album) int {
		return yearNumber(x.ReleaseYear) - yearNumber(y.ReleaseYear)
	})

	a.logger.Debug().
		Str("artist_id", artistID).
		Int("albums", len(albums)).
		Msg("Fetched albums")

	return albums, nil
}

// AlbumDuration sums the track durations of an album across all pages of
// its listing and formats the total.
func (a *Aggregator) AlbumDuration(ctx context.Context, albumID, token string) (string, error) {
	total := 0
	for offset := 0; ; offset += albumPageSize {
		tracks, err := a.source.AlbumTrackPage(ctx, albumID, albumPageSize, offset, token)
		if err != nil {
			return "", errors.Wrapf(err, "summing duration of album %s", albumID)
		}
		for _, t := range tracks {
			total += int(t.Duration)
		}
		if len(tracks) < albumPageSize {
			break
		}
	}
	return FormatDuration(total), nil
}

// SearchArtistNames returns up to five artist names for type-ahead
// suggestions. No matches or an undecodable response yield an empty slice.
func (a *Aggregator) SearchArtistNames(ctx context.Context, query, token string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return []string{}, nil
	}

	artists, err := a.source.SearchArtists(ctx, query, suggestionLimit, token)
	if err != nil {
		if isMalformed(err) {
			a.logger.Warn().Err(err).Str("query", query).Msg("Malformed suggestion response")
			return []string{}, nil
		}
		return nil, errors.Wrap(err, "searching artist names")
	}

	names := make([]string, 0, len(artists))
	for _, artist := range artists {
		names = append(names, artist.Name)
	}
	return names, nil
}

func isMalformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

func convertAlbum(r spotify.SimpleAlbum) Album {
	album := Album{
		ID:          r.ID.String(),
		Name:        r.Name,
		ArtistName:  firstArtist(r.Artists),
		ReleaseYear: releaseYear(r.ReleaseDate),
		ExternalURL: r.ExternalURLs["spotify"],
	}
	// Index 1 is the medium-sized cover.
	if len(r.Images) > 1 {
		album.ImageURL = r.Images[1].URL
	}
	return album
}

// yearNumber orders unparseable years first.
func yearNumber(year string) int {
	n, err := strconv.Atoi(year)
	if err != nil {
		return 0
	}
	return n
}
