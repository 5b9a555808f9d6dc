// merge_test verifies that scraped records land on the catalog correctly,
// with the store mocked and artwork served from a local HTTP server.
package merge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/event"
	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/merge"
	"github.com/ceres-media/ceres/internal/scrape"
)

var defaultEventBus = event.New()

type fakeCatalog struct {
	mu sync.Mutex

	details       []*library.Details
	renamedMedia  map[uuid.UUID]string
	images        []*library.Image
	existingCount map[library.ImageType]int
	people        map[string]*library.Person
	photos        map[uuid.UUID]string
	credits       map[uuid.UUID][]*library.Credit
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		renamedMedia:  make(map[uuid.UUID]string),
		existingCount: make(map[library.ImageType]int),
		people:        make(map[string]*library.Person),
		photos:        make(map[uuid.UUID]string),
		credits:       make(map[uuid.UUID][]*library.Credit),
	}
}

func (c *fakeCatalog) UpsertDetails(_ database.Queryable, details *library.Details) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details = append(c.details, details)
	return nil
}

func (c *fakeCatalog) RenameMedia(_ database.Queryable, mediaID uuid.UUID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renamedMedia[mediaID] = name
	return nil
}

func (c *fakeCatalog) RenameCollection(_ database.Queryable, collectionID uuid.UUID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renamedMedia[collectionID] = name
	return nil
}

func (c *fakeCatalog) CountImages(_ database.Queryable, _ uuid.UUID, imageType library.ImageType) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existingCount[imageType], nil
}

func (c *fakeCatalog) SaveImage(_ database.Queryable, image *library.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, image)
	return nil
}

func (c *fakeCatalog) FindOrCreatePerson(_ database.Queryable, name string, provider string, externalID string) (*library.Person, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := provider + "/" + externalID
	if person, ok := c.people[key]; ok {
		return person, nil
	}

	person := &library.Person{ID: uuid.New(), Name: name, Provider: provider, ExternalID: externalID}
	c.people[key] = person
	return person, nil
}

func (c *fakeCatalog) SetPersonPhoto(_ database.Queryable, personID uuid.UUID, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.photos[personID] = path
	return nil
}

func (c *fakeCatalog) ReplaceCredits(_ database.Queryable, ownerID uuid.UUID, credits []*library.Credit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credits[ownerID] = credits
	return nil
}

type applier interface {
	Apply(ctx context.Context, record *scrape.Record, target merge.Target, opts merge.Options) error
}

// requestLog records which artwork paths the stub server was asked for.
type requestLog struct {
	mu    sync.Mutex
	paths map[string]int
}

func (l *requestLog) record(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths[path]++
}

func (l *requestLog) count(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paths[path]
}

// newService builds a merge service over the fake catalog with artwork
// served by a stub HTTP server.
func newService(t *testing.T, store *fakeCatalog) (applier, *httptest.Server, *requestLog) {
	hits := &requestLog{paths: make(map[string]int)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.record(r.URL.Path)

		if r.URL.Path == "/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(server.Close)

	downloader, err := merge.NewImageDownloader(t.TempDir())
	require.Nil(t, err)

	return merge.New(nil, store, downloader, defaultEventBus), server, hits
}

func strPtr(v string) *string { return &v }

func sampleRecord(server *httptest.Server) *scrape.Record {
	year := 2020
	rating := 7.8
	return &scrape.Record{
		Provider:    "tmdb",
		ExternalID:  "42",
		Title:       "Example Film",
		Tagline:     strPtr("An example."),
		Description: strPtr("Longer example."),
		Year:        &year,
		Rating:      &rating,
		Genres:      []string{"Drama"},
		Images: map[library.ImageType]string{
			library.PosterImage:   server.URL + "/poster.jpg",
			library.BackdropImage: server.URL + "/backdrop.jpg",
		},
		Credits: []scrape.CreditRecord{
			{Name: "Some Actor", ExternalID: "p1", Role: library.ActorCredit, Character: strPtr("Lead"), Position: 0, PhotoURL: server.URL + "/p1.jpg"},
			{Name: "Some Director", ExternalID: "p2", Role: library.DirectorCredit, Position: 1},
		},
	}
}

func Test_Apply_WritesDetailsCreditsAndImages(t *testing.T) {
	t.Parallel()
	store := newFakeCatalog()
	srv, server, _ := newService(t, store)

	target := merge.Target{ID: uuid.New(), Kind: library.MediaOwner}
	require.Nil(t, srv.Apply(context.Background(), sampleRecord(server), target, merge.Options{}))

	require.Len(t, store.details, 1)
	details := store.details[0]
	assert.Equal(t, target.ID, details.OwnerID)
	assert.Equal(t, library.MediaOwner, details.OwnerKind)
	assert.Equal(t, "tmdb", details.Provider)
	assert.Equal(t, "42", details.ExternalID)
	assert.Equal(t, "An example.", details.Tagline)
	assert.Equal(t, "Example Film", store.renamedMedia[target.ID], "scraped title must rename the media row")

	credits := store.credits[target.ID]
	require.Len(t, credits, 2)
	assert.Equal(t, library.ActorCredit, credits[0].Role)
	assert.Equal(t, "Lead", credits[0].Character)
	assert.Equal(t, library.DirectorCredit, credits[1].Role)
	assert.Len(t, store.people, 2)

	require.Len(t, store.images, 2)
	for _, image := range store.images {
		assert.True(t, image.IsPrimary)
		assert.NotEmpty(t, image.Path)
	}

	actor := store.people["tmdb/p1"]
	require.NotNil(t, actor)
	assert.NotEmpty(t, store.photos[actor.ID], "actor photo should be downloaded on first sight")
}

func Test_Apply_RepeatedMerge_DoesNotDuplicatePeople(t *testing.T) {
	t.Parallel()
	store := newFakeCatalog()
	srv, server, _ := newService(t, store)

	target := merge.Target{ID: uuid.New(), Kind: library.MediaOwner}
	require.Nil(t, srv.Apply(context.Background(), sampleRecord(server), target, merge.Options{}))
	require.Nil(t, srv.Apply(context.Background(), sampleRecord(server), target, merge.Options{}))

	assert.Len(t, store.people, 2, "people are keyed by provider identity and never duplicated")
	assert.Len(t, store.credits[target.ID], 2, "credits are replaced wholesale, not appended")
}

func Test_Apply_ImagesOnly_LeavesDetailsAndCreditsUntouched(t *testing.T) {
	t.Parallel()
	store := newFakeCatalog()
	srv, server, _ := newService(t, store)

	target := merge.Target{ID: uuid.New(), Kind: library.CollectionOwner}
	require.Nil(t, srv.Apply(context.Background(), sampleRecord(server), target, merge.Options{ImagesOnly: true}))

	assert.Empty(t, store.details)
	assert.Empty(t, store.credits[target.ID])
	assert.Empty(t, store.renamedMedia)
	assert.Len(t, store.images, 2, "images-only merge still fetches artwork")
}

func Test_Apply_SkipImages_OnlyFetchesMissingKinds(t *testing.T) {
	t.Parallel()
	store := newFakeCatalog()
	store.existingCount[library.PosterImage] = 1
	srv, server, hits := newService(t, store)

	target := merge.Target{ID: uuid.New(), Kind: library.MediaOwner}
	require.Nil(t, srv.Apply(context.Background(), sampleRecord(server), target, merge.Options{SkipImages: true}))

	require.Len(t, store.images, 1, "only the kind with no existing image is fetched")
	assert.Equal(t, library.BackdropImage, store.images[0].Type)
	assert.Zero(t, hits.count("/poster.jpg"))
	assert.Zero(t, hits.count("/p1.jpg"), "skip-images also skips credit photo downloads")
}

func Test_Apply_FailedImageDownload_DoesNotFailMergeOrSiblings(t *testing.T) {
	t.Parallel()
	store := newFakeCatalog()
	srv, server, _ := newService(t, store)

	record := sampleRecord(server)
	record.Images[library.PosterImage] = server.URL + "/missing.jpg"

	target := merge.Target{ID: uuid.New(), Kind: library.MediaOwner}
	require.Nil(t, srv.Apply(context.Background(), record, target, merge.Options{}))

	require.Len(t, store.images, 1, "the failed poster must not stop the backdrop download")
	assert.Equal(t, library.BackdropImage, store.images[0].Type)
}

func Test_Apply_NilRecord_IsRejected(t *testing.T) {
	t.Parallel()
	store := newFakeCatalog()
	srv, _, _ := newService(t, store)

	err := srv.Apply(context.Background(), nil, merge.Target{ID: uuid.New(), Kind: library.MediaOwner}, merge.Options{})
	assert.NotNil(t, err)
}

func Test_Apply_DispatchesUpdateEvents(t *testing.T) {
	store := newFakeCatalog()

	bus := event.New()
	var mu sync.Mutex
	var mediaUpdates, collectionUpdates []uuid.UUID
	bus.RegisterHandlerFunction(event.MEDIA_UPDATE, func(_ event.Event, payload event.Payload) {
		mu.Lock()
		defer mu.Unlock()
		mediaUpdates = append(mediaUpdates, payload.(uuid.UUID))
	})
	bus.RegisterHandlerFunction(event.COLLECTION_UPDATE, func(_ event.Event, payload event.Payload) {
		mu.Lock()
		defer mu.Unlock()
		collectionUpdates = append(collectionUpdates, payload.(uuid.UUID))
	})

	downloader, err := merge.NewImageDownloader(t.TempDir())
	require.Nil(t, err)
	srv := merge.New(nil, store, downloader, bus)

	mediaTarget := merge.Target{ID: uuid.New(), Kind: library.MediaOwner}
	collectionTarget := merge.Target{ID: uuid.New(), Kind: library.CollectionOwner}
	record := &scrape.Record{Provider: "tmdb", ExternalID: "42", Title: "Example"}

	require.Nil(t, srv.Apply(context.Background(), record, mediaTarget, merge.Options{}))
	require.Nil(t, srv.Apply(context.Background(), record, collectionTarget, merge.Options{}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uuid.UUID{mediaTarget.ID}, mediaUpdates)
	assert.Equal(t, []uuid.UUID{collectionTarget.ID}, collectionUpdates)
}
