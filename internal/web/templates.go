package web

import (
	"html/template"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/justestif/riffquest/internal/catalog"
)

// Templates manages HTML template rendering.
type Templates struct {
	templates map[string]*template.Template
	funcs     template.FuncMap
}

// NewTemplates creates a new template manager by loading templates from the given filesystem.
func NewTemplates(templatesFS fs.FS) (*Templates, error) {
	t := &Templates{
		templates: make(map[string]*template.Template),
		funcs:     defaultFuncs(),
	}

	if err := t.load(templatesFS); err != nil {
		return nil, err
	}

	return t, nil
}

// Render renders a page template with the given data.
func (t *Templates) Render(w io.Writer, page string, data any) error {
	tmpl, ok := t.templates[page]
	if !ok {
		return errors.Newf("template %q not found", page)
	}

	// Execute the "base" template which includes the page content
	return tmpl.ExecuteTemplate(w, "base", data)
}

// load parses all templates from the filesystem.
func (t *Templates) load(templatesFS fs.FS) error {
	layouts, err := fs.Glob(templatesFS, "layouts/*.html")
	if err != nil {
		return errors.Wrap(err, "finding layouts")
	}

	partials, err := fs.Glob(templatesFS, "partials/*.html")
	if err != nil {
		return errors.Wrap(err, "finding partials")
	}

	pages, err := fs.Glob(templatesFS, "pages/*.html")
	if err != nil {
		return errors.Wrap(err, "finding pages")
	}

	// Common files to include with every page
	commonFiles := append(layouts, partials...)

	for _, page := range pages {
		name := strings.TrimSuffix(filepath.Base(page), ".html")
		files := append([]string{page}, commonFiles...)

		tmpl, err := template.New(name).Funcs(t.funcs).ParseFS(templatesFS, files...)
		if err != nil {
			return errors.Wrapf(err, "parsing template %s", name)
		}
		t.templates[name] = tmpl
	}

	return nil
}

// defaultFuncs returns the default template functions.
func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		// formatNumber groups thousands: 1234567 -> "1,234,567"
		"formatNumber": func(n int) string {
			return message.NewPrinter(language.English).Sprintf("%d", n)
		},

		"join": strings.Join,

		// dict builds a map from key/value pairs so partials can take
		// several arguments.
		"dict": func(pairs ...any) (map[string]any, error) {
			if len(pairs)%2 != 0 {
				return nil, errors.New("dict: odd number of arguments")
			}
			m := make(map[string]any, len(pairs)/2)
			for i := 0; i < len(pairs); i += 2 {
				key, ok := pairs[i].(string)
				if !ok {
					return nil, errors.Newf("dict: key %v is not a string", pairs[i])
				}
				m[key] = pairs[i+1]
			}
			return m, nil
		},

		// add adds two integers (for 1-based indexing in loops)
		"add": func(a, b int) int {
			return a + b
		},
	}
}

// Page names.
const (
	pageHome      = "home"
	pageLoading   = "loading"
	pageTopTracks = "top_tracks"
	pageAlbums    = "albums"
	pageArtist    = "artist"
	pageNoResults = "no_results"
	pageError     = "error"
)

// PageData contains common data passed to all page templates.
type PageData struct {
	Title       string
	User        *UserData
	CurrentPath string
}

// UserData contains authenticated user information.
type UserData struct {
	ID   string
	Name string
}

// HomePageData contains data for the home page template.
type HomePageData struct {
	PageData
	Authenticated bool
}

// LoadingPageData is shown while the service token is being fetched.
type LoadingPageData struct {
	PageData
	RefreshSeconds int
	RefreshURL     string
}

// NoResultsPageData explains why a search produced nothing.
type NoResultsPageData struct {
	PageData
	Artist string
}

// ErrorPageData contains data for the error page. Message is empty in
// production.
type ErrorPageData struct {
	PageData
	Message string
}

// TopTracksPageData lists an artist's most popular tracks.
type TopTracksPageData struct {
	PageData
	Artist string
	Tracks []catalog.Track
}

// AlbumsPageData lists an artist's albums oldest first.
type AlbumsPageData struct {
	PageData
	Artist string
	Albums []catalog.Album
}

// ArtistPageData contains the artist profile.
type ArtistPageData struct {
	PageData
	Name       string
	ImageURL   string
	SpotifyURL string
	Followers  int
	Popularity int
	Genres     []string
}
