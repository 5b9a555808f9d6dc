package tvdb

import (
	"context"
	"encoding/json"
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

func newTestProvider(server *httptest.Server) *tvdbProvider {
	p := New(Config{APIKey: "test-key"}).(*tvdbProvider)
	p.baseURL = server.URL
	return p
}

// newLoginMux returns a mux that serves the login endpoint, issuing tokens
// "tok-1", "tok-2", ... and counting issued logins.
func newLoginMux(t *testing.T, logins *atomic.Int32) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-key", body["apikey"])

		count := logins.Add(1)
		fmt.Fprintf(w, `{"data": {"token": "tok-%d"}}`, count)
	})
	return mux
}

func Test_Configured_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	assert.False(t, New(Config{}).Configured())
	assert.True(t, New(Config{APIKey: "test-key"}).Configured())
}

func Test_Supports_TelevisionLibrariesOnly(t *testing.T) {
	t.Parallel()

	p := New(Config{APIKey: "test-key"})
	assert.True(t, p.Supports(library.TelevisionLibrary))
	assert.False(t, p.Supports(library.FilmLibrary))
	assert.False(t, p.Supports(library.MusicLibrary))
}

func Test_SearchSeries_AuthenticatesAndMapsResults(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	mux := newLoginMux(t, &logins)
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "Example Show", r.URL.Query().Get("query"))
		assert.Equal(t, "series", r.URL.Query().Get("type"))
		assert.Equal(t, "2018", r.URL.Query().Get("year"))

		fmt.Fprint(w, `{"data": [
			{"tvdb_id": "7", "name": "Example Show", "year": "2018"},
			{"tvdb_id": "", "name": "malformed entry without an id"}
		]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(server)
	year := 2018
	results, err := p.SearchSeries(context.Background(), scrape.SearchHints{Title: "Example Show", Year: &year})
	require.NoError(t, err)

	assert.Equal(t, int32(1), logins.Load())
	require.Len(t, results, 1, "entries with no id must be dropped")
	assert.Equal(t, "tvdb", results[0].ProviderID)
	assert.Equal(t, "7", results[0].ExternalID)
	require.NotNil(t, results[0].Year)
	assert.Equal(t, 2018, *results[0].Year)
}

func Test_FetchSeries_MapsGenresAndCharacters(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	mux := newLoginMux(t, &logins)
	mux.HandleFunc("/series/7/extended", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "characters", r.URL.Query().Get("meta"))

		fmt.Fprint(w, `{"data": {
			"id": 7, "name": "Example Show", "overview": "A show about examples.",
			"year": "2018", "firstAired": "2018-04-01", "image": "http://img/poster.jpg",
			"genres": [{"name": "Drama"}],
			"characters": [
				{"name": "The Lead", "peopleId": 1, "personName": "Example Actor", "peopleType": "Actor", "sort": 0, "personImgURL": "http://img/p1.jpg"},
				{"peopleId": 2, "personName": "Example Director", "peopleType": "Director", "sort": 1},
				{"peopleId": 3, "personName": "Example Creator", "peopleType": "Creator"}
			]
		}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	record, err := newTestProvider(server).FetchSeries(context.Background(), "7")
	require.NoError(t, err)

	assert.Equal(t, "Example Show", record.Title)
	require.NotNil(t, record.Description)
	assert.Equal(t, "A show about examples.", *record.Description)
	require.NotNil(t, record.Year)
	assert.Equal(t, 2018, *record.Year)
	assert.Equal(t, []string{"Drama"}, record.Genres)
	assert.Equal(t, "http://img/poster.jpg", record.Images[library.PosterImage])

	require.Len(t, record.Credits, 2, "character entries with unmapped people types must be dropped")
	actor := record.Credits[0]
	assert.Equal(t, library.ActorCredit, actor.Role)
	require.NotNil(t, actor.Character)
	assert.Equal(t, "The Lead", *actor.Character)
	assert.Equal(t, "http://img/p1.jpg", actor.PhotoURL)
	director := record.Credits[1]
	assert.Equal(t, library.DirectorCredit, director.Role)
	assert.Nil(t, director.Character)
}

func Test_FetchSeason_PicksOfficialSeasonByNumber(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	mux := newLoginMux(t, &logins)
	mux.HandleFunc("/series/7/extended", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"id": 7, "name": "Example Show", "seasons": [
			{"id": 11, "number": 1, "type": {"type": "dvd"}},
			{"id": 12, "number": 1, "image": "http://img/s1.jpg", "type": {"type": "official"}},
			{"id": 13, "number": 2, "type": {"type": "official"}}
		]}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(server)
	record, err := p.FetchSeason(context.Background(), "7", 1)
	require.NoError(t, err)

	assert.Equal(t, "12", record.ExternalID, "alternate season orders must be skipped")
	assert.Equal(t, "Season 1", record.Title)
	require.NotNil(t, record.SeasonNumber)
	assert.Equal(t, 1, *record.SeasonNumber)
	assert.Equal(t, "http://img/s1.jpg", record.Images[library.PosterImage])

	_, err = p.FetchSeason(context.Background(), "7", 3)
	var permanent *scrape.PermanentError
	assert.ErrorAs(t, err, &permanent, "a season the series does not have cannot be retried in to existence")
}

func Test_FetchEpisode_FiltersBySeasonAndEpisode(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	mux := newLoginMux(t, &logins)
	mux.HandleFunc("/series/7/episodes/default", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("season"))

		fmt.Fprint(w, `{"data": {"episodes": [
			{"id": 100, "name": "Recurrence", "seasonNumber": 2, "number": 1},
			{"id": 101, "name": "The One", "overview": "Things happen.", "aired": "2019-04-08", "image": "http://img/e5.jpg", "seasonNumber": 2, "number": 5}
		]}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := newTestProvider(server)
	record, err := p.FetchEpisode(context.Background(), "7", 2, 5)
	require.NoError(t, err)

	assert.Equal(t, "101", record.ExternalID)
	assert.Equal(t, "The One", record.Title)
	require.NotNil(t, record.SeasonNumber)
	assert.Equal(t, 2, *record.SeasonNumber)
	require.NotNil(t, record.EpisodeNumber)
	assert.Equal(t, 5, *record.EpisodeNumber)
	assert.Equal(t, "http://img/e5.jpg", record.Images[library.ThumbnailImage])

	_, err = p.FetchEpisode(context.Background(), "7", 2, 9)
	var permanent *scrape.PermanentError
	assert.ErrorAs(t, err, &permanent)
}

func Test_GetJSON_ReissuesTokenWhenRejected(t *testing.T) {
	t.Parallel()

	var logins atomic.Int32
	mux := newLoginMux(t, &logins)
	mux.HandleFunc("/series/7/extended", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data": {"id": 7, "name": "Example Show"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	record, err := newTestProvider(server).FetchSeries(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Example Show", record.Title)
	assert.Equal(t, int32(2), logins.Load(), "a rejected token must be discarded and reissued")
}
