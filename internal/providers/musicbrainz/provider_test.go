package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/scrape"
)

func newTestProvider(server *httptest.Server) *musicbrainzProvider {
	p := New(Config{UserAgent: "ceres-tests/1.0"}).(*musicbrainzProvider)
	p.baseURL = server.URL
	p.coverURL = "http://covers.test"
	return p
}

func Test_Configured_NeedsNoCredentials(t *testing.T) {
	t.Parallel()

	assert.True(t, New(Config{}).Configured())
}

func Test_Supports_MusicLibrariesOnly(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	assert.True(t, p.Supports(library.MusicLibrary))
	assert.False(t, p.Supports(library.FilmLibrary))
	assert.False(t, p.Supports(library.TelevisionLibrary))
}

func Test_SearchArtist_QuotesLuceneQuery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/artist", r.URL.Path)
		assert.Equal(t, `artist:"Example Artist"`, r.URL.Query().Get("query"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		assert.Equal(t, "ceres-tests/1.0", r.Header.Get("User-Agent"))

		fmt.Fprint(w, `{"artists": [
			{"id": "mb-1", "name": "Example Artist", "life-span": {"begin": "1991-08-01"}}
		]}`)
	}))
	defer server.Close()

	results, err := newTestProvider(server).SearchArtist(context.Background(), scrape.SearchHints{Title: "Example Artist"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "musicbrainz", results[0].ProviderID)
	assert.Equal(t, "mb-1", results[0].ExternalID)
	assert.Equal(t, "Example Artist", results[0].Title)
	require.NotNil(t, results[0].Year)
	assert.Equal(t, 1991, *results[0].Year)
}

func Test_SearchAlbum_NarrowsByArtistHint(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/release-group", r.URL.Path)
		assert.Equal(t, `releasegroup:"Example Album" AND artist:"Example Artist"`, r.URL.Query().Get("query"))

		fmt.Fprint(w, `{"release-groups": [
			{"id": "rg-1", "title": "Example Album", "first-release-date": "2003-09-23"}
		]}`)
	}))
	defer server.Close()

	results, err := newTestProvider(server).SearchAlbum(context.Background(), scrape.SearchHints{
		Title:  "Example Album",
		Artist: "Example Artist",
	})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "rg-1", results[0].ExternalID)
	require.NotNil(t, results[0].Year)
	assert.Equal(t, 2003, *results[0].Year)
}

func Test_FetchArtist_MapsDisambiguationAndGenres(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/artist/mb-1", r.URL.Path)
		assert.Equal(t, "genres", r.URL.Query().Get("inc"))

		fmt.Fprint(w, `{
			"id": "mb-1", "name": "Example Artist",
			"disambiguation": "UK shoegaze band",
			"life-span": {"begin": "1991"},
			"genres": [{"name": "shoegaze"}, {"name": "dream pop"}]
		}`)
	}))
	defer server.Close()

	record, err := newTestProvider(server).FetchArtist(context.Background(), "mb-1")
	require.NoError(t, err)

	assert.Equal(t, "Example Artist", record.Title)
	require.NotNil(t, record.Description)
	assert.Equal(t, "UK shoegaze band", *record.Description)
	require.NotNil(t, record.Year)
	assert.Equal(t, 1991, *record.Year)
	assert.Equal(t, []string{"shoegaze", "dream pop"}, record.Genres)
}

func Test_FetchAlbum_PointsPosterAtCoverArtArchive(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/release-group/rg-1", r.URL.Path)
		assert.Equal(t, "genres artist-credits", r.URL.Query().Get("inc"))

		fmt.Fprint(w, `{
			"id": "rg-1", "title": "Example Album",
			"first-release-date": "2003-09-23",
			"genres": [{"name": "shoegaze"}]
		}`)
	}))
	defer server.Close()

	record, err := newTestProvider(server).FetchAlbum(context.Background(), "rg-1")
	require.NoError(t, err)

	assert.Equal(t, "Example Album", record.Title)
	require.NotNil(t, record.ReleaseDate)
	assert.Equal(t, "2003-09-23", record.ReleaseDate.Format("2006-01-02"))
	assert.Equal(t, "http://covers.test/release-group/rg-1/front", record.Images[library.PosterImage])
}

func Test_GetJSON_RetriesThrottledRequests(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/artist/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id": "mb-1", "name": "Example Artist"}`)
	}))
	defer server.Close()

	record, err := newTestProvider(server).FetchArtist(context.Background(), "mb-1")
	require.NoError(t, err)
	assert.Equal(t, "Example Artist", record.Title)
	assert.Equal(t, int32(2), attempts.Load())

	_, err = newTestProvider(server).FetchArtist(context.Background(), "missing")
	var permanent *scrape.PermanentError
	require.ErrorAs(t, err, &permanent, "a not-found artist must not be retried")
}
