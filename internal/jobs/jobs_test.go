package jobs_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/merge"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scrape"
)

// fakeCatalog backs the handlers with in-memory rows. Lookups miss with
// library.ErrNotFound, matching the store's behaviour.
type fakeCatalog struct {
	libraries   map[uuid.UUID]*library.Library
	media       map[uuid.UUID]*library.Media
	collections map[uuid.UUID]*library.Collection
	details     map[uuid.UUID]*library.Details

	collectionMedia map[uuid.UUID][]*library.Media
	listErr         error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		libraries:       make(map[uuid.UUID]*library.Library),
		media:           make(map[uuid.UUID]*library.Media),
		collections:     make(map[uuid.UUID]*library.Collection),
		details:         make(map[uuid.UUID]*library.Details),
		collectionMedia: make(map[uuid.UUID][]*library.Media),
	}
}

func (c *fakeCatalog) GetLibrary(_ database.Queryable, libraryID uuid.UUID) (*library.Library, error) {
	if lib, ok := c.libraries[libraryID]; ok {
		return lib, nil
	}
	return nil, library.ErrNotFound
}

func (c *fakeCatalog) GetMedia(_ database.Queryable, mediaID uuid.UUID) (*library.Media, error) {
	if media, ok := c.media[mediaID]; ok {
		return media, nil
	}
	return nil, library.ErrNotFound
}

func (c *fakeCatalog) GetCollection(_ database.Queryable, collectionID uuid.UUID) (*library.Collection, error) {
	if collection, ok := c.collections[collectionID]; ok {
		return collection, nil
	}
	return nil, library.ErrNotFound
}

func (c *fakeCatalog) GetDetails(_ database.Queryable, ownerID uuid.UUID) (*library.Details, error) {
	if details, ok := c.details[ownerID]; ok {
		return details, nil
	}
	return nil, library.ErrNotFound
}

func (c *fakeCatalog) ListCollectionMedia(_ database.Queryable, collectionID uuid.UUID) ([]*library.Media, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.collectionMedia[collectionID], nil
}

type scheduledCollection struct {
	request queue.CollectionScrapeRequest
	delay   time.Duration
}

type fakeProducer struct {
	ifAbsent    []queue.MediaScrapeRequest
	forced      []queue.MediaScrapeRequest
	collections []scheduledCollection

	ifAbsentErr error
}

func (p *fakeProducer) ScheduleMediaScrapeIfAbsent(_ context.Context, request queue.MediaScrapeRequest) error {
	p.ifAbsent = append(p.ifAbsent, request)
	return p.ifAbsentErr
}

func (p *fakeProducer) ScheduleMediaScrapeForced(_ context.Context, request queue.MediaScrapeRequest) error {
	p.forced = append(p.forced, request)
	return nil
}

func (p *fakeProducer) ScheduleCollectionScrape(_ context.Context, request queue.CollectionScrapeRequest, delay time.Duration) error {
	p.collections = append(p.collections, scheduledCollection{request: request, delay: delay})
	return nil
}

type appliedMerge struct {
	record *scrape.Record
	target merge.Target
	opts   merge.Options
}

type fakeApplier struct {
	applied  []appliedMerge
	applyErr error
}

func (a *fakeApplier) Apply(_ context.Context, record *scrape.Record, target merge.Target, opts merge.Options) error {
	a.applied = append(a.applied, appliedMerge{record: record, target: target, opts: opts})
	return a.applyErr
}

type episodeFetch struct {
	seriesID string
	season   int
	episode  int
}

type seasonFetch struct {
	seriesID string
	season   int
}

// stubProvider drives the registry from test-controlled fields. Search
// operations share one result set; each fetch operation returns its own
// record and records the arguments it was called with.
type stubProvider struct {
	scrape.UnsupportedProvider

	id           string
	libraryTypes map[library.LibraryType]bool
	capabilities scrape.CapabilitySet

	searchResults []scrape.SearchResult
	searchHints   []scrape.SearchHints

	videoRecord   *scrape.Record
	seriesRecord  *scrape.Record
	seasonRecord  *scrape.Record
	episodeRecord *scrape.Record
	artistRecord  *scrape.Record
	albumRecord   *scrape.Record

	fetchedVideoID  string
	fetchedSeriesID string
	fetchedArtistID string
	fetchedAlbumID  string
	seasonFetches   []seasonFetch
	episodeFetches  []episodeFetch
}

func (p *stubProvider) ID() string                          { return p.id }
func (p *stubProvider) Name() string                        { return p.id }
func (p *stubProvider) Capabilities() scrape.CapabilitySet  { return p.capabilities }
func (p *stubProvider) Configured() bool                    { return true }
func (p *stubProvider) Supports(t library.LibraryType) bool { return p.libraryTypes[t] }

func (p *stubProvider) search(hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	p.searchHints = append(p.searchHints, hints)
	return p.searchResults, nil
}

func (p *stubProvider) SearchVideo(_ context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	return p.search(hints)
}

func (p *stubProvider) SearchSeries(_ context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	return p.search(hints)
}

func (p *stubProvider) SearchArtist(_ context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	return p.search(hints)
}

func (p *stubProvider) SearchAlbum(_ context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	return p.search(hints)
}

func (p *stubProvider) FetchVideo(_ context.Context, externalID string) (*scrape.Record, error) {
	p.fetchedVideoID = externalID
	return p.videoRecord, nil
}

func (p *stubProvider) FetchSeries(_ context.Context, externalID string) (*scrape.Record, error) {
	p.fetchedSeriesID = externalID
	return p.seriesRecord, nil
}

func (p *stubProvider) FetchSeason(_ context.Context, seriesExternalID string, season int) (*scrape.Record, error) {
	p.seasonFetches = append(p.seasonFetches, seasonFetch{seriesID: seriesExternalID, season: season})
	return p.seasonRecord, nil
}

func (p *stubProvider) FetchEpisode(_ context.Context, seriesExternalID string, season int, episode int) (*scrape.Record, error) {
	p.episodeFetches = append(p.episodeFetches, episodeFetch{seriesID: seriesExternalID, season: season, episode: episode})
	return p.episodeRecord, nil
}

func (p *stubProvider) FetchArtist(_ context.Context, externalID string) (*scrape.Record, error) {
	p.fetchedArtistID = externalID
	return p.artistRecord, nil
}

func (p *stubProvider) FetchAlbum(_ context.Context, externalID string) (*scrape.Record, error) {
	p.fetchedAlbumID = externalID
	return p.albumRecord, nil
}

func intPtr(v int) *int { return &v }
