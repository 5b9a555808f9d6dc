package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scanner"
)

type scheduledCollection struct {
	request queue.CollectionScrapeRequest
	delay   time.Duration
}

type fakeProducer struct {
	collections []scheduledCollection
	ifAbsent    []queue.MediaScrapeRequest
	forced      []queue.MediaScrapeRequest
	forcedErr   error
}

func (p *fakeProducer) ScheduleMediaScrapeIfAbsent(_ context.Context, request queue.MediaScrapeRequest) error {
	p.ifAbsent = append(p.ifAbsent, request)
	return nil
}

func (p *fakeProducer) ScheduleMediaScrapeForced(_ context.Context, request queue.MediaScrapeRequest) error {
	if p.forcedErr != nil {
		return p.forcedErr
	}
	p.forced = append(p.forced, request)
	return nil
}

func (p *fakeProducer) ScheduleCollectionScrape(_ context.Context, request queue.CollectionScrapeRequest, delay time.Duration) error {
	p.collections = append(p.collections, scheduledCollection{request, delay})
	return nil
}

func collectionOutcome(collectionType library.CollectionType) scanner.CollectionOutcome {
	return scanner.CollectionOutcome{
		Collection: &library.Collection{ID: uuid.New(), Type: collectionType},
		Created:    true,
	}
}

func mediaOutcome(created bool) scanner.MediaOutcome {
	return scanner.MediaOutcome{Media: &library.Media{ID: uuid.New()}, Created: created}
}

func Test_DispatchJobs_DelaysDependentCollections(t *testing.T) {
	t.Parallel()

	outcome := &scanner.Outcome{
		Collections: []scanner.CollectionOutcome{
			collectionOutcome(library.ShowCollection),
			collectionOutcome(library.ShowCollection),
			collectionOutcome(library.ShowCollection),
			collectionOutcome(library.SeasonCollection),
			collectionOutcome(library.SeasonCollection),
		},
		Media: []scanner.MediaOutcome{mediaOutcome(true)},
	}
	lib := &library.Library{ID: uuid.New(), Type: library.TelevisionLibrary}

	producer := &fakeProducer{}
	errs := scanner.DispatchJobs(context.Background(), producer, lib, outcome)
	assert.Empty(t, errs)

	require.Len(t, producer.collections, 5)
	for _, entry := range producer.collections[:3] {
		assert.Zero(t, entry.delay, "parent collections go out immediately")
	}
	expectedDelay := queue.ParentResolutionDelay(3)
	for _, entry := range producer.collections[3:] {
		assert.Equal(t, expectedDelay, entry.delay, "dependent collections wait on their parents")
	}

	assert.Len(t, producer.ifAbsent, 1)
}

func Test_DispatchJobs_FilmLibraries_GetNoMediaJobs(t *testing.T) {
	t.Parallel()

	outcome := &scanner.Outcome{
		Collections: []scanner.CollectionOutcome{collectionOutcome(library.FilmCollection)},
		Media:       []scanner.MediaOutcome{mediaOutcome(true), mediaOutcome(true)},
	}
	lib := &library.Library{ID: uuid.New(), Type: library.FilmLibrary}

	producer := &fakeProducer{}
	errs := scanner.DispatchJobs(context.Background(), producer, lib, outcome)
	assert.Empty(t, errs)

	assert.Len(t, producer.collections, 1)
	assert.Empty(t, producer.ifAbsent, "film media is scraped by the collection fan-out, not directly")
	assert.Empty(t, producer.forced)
}

func Test_DispatchJobs_GenericCollections_AreSkipped(t *testing.T) {
	t.Parallel()

	outcome := &scanner.Outcome{
		Collections: []scanner.CollectionOutcome{collectionOutcome(library.GenericCollection)},
	}
	lib := &library.Library{ID: uuid.New(), Type: library.TelevisionLibrary}

	producer := &fakeProducer{}
	errs := scanner.DispatchJobs(context.Background(), producer, lib, outcome)
	assert.Empty(t, errs)
	assert.Empty(t, producer.collections)
}

func Test_DispatchJobs_RevisitedMedia_UsesForcedScheduling(t *testing.T) {
	t.Parallel()

	outcome := &scanner.Outcome{
		Media: []scanner.MediaOutcome{mediaOutcome(false), mediaOutcome(true)},
	}
	lib := &library.Library{ID: uuid.New(), Type: library.TelevisionLibrary}

	producer := &fakeProducer{}
	errs := scanner.DispatchJobs(context.Background(), producer, lib, outcome)
	assert.Empty(t, errs)

	assert.Len(t, producer.forced, 1)
	assert.Len(t, producer.ifAbsent, 1)
}

func Test_DispatchJobs_ForcedEnqueueFailure_IsReported(t *testing.T) {
	t.Parallel()

	outcome := &scanner.Outcome{
		Media: []scanner.MediaOutcome{mediaOutcome(false)},
	}
	lib := &library.Library{ID: uuid.New(), Type: library.TelevisionLibrary}

	producer := &fakeProducer{forcedErr: errors.New("test: redis unavailable")}
	errs := scanner.DispatchJobs(context.Background(), producer, lib, outcome)

	assert.Len(t, errs, 1)
}

func Test_DispatchJobs_CarriesScanHintsOnRequests(t *testing.T) {
	t.Parallel()

	season := 1
	episode := 5
	media := scanner.MediaOutcome{
		Media:   &library.Media{ID: uuid.New()},
		Created: true,
		Hints: scanner.FileHints{
			Title:         "Example Show",
			Episodic:      true,
			SeasonNumber:  &season,
			EpisodeNumber: &episode,
		},
	}
	album := scanner.CollectionOutcome{
		Collection: &library.Collection{ID: uuid.New(), Type: library.AlbumCollection},
		ParentName: "Example Artist",
		Created:    true,
	}
	outcome := &scanner.Outcome{
		Collections: []scanner.CollectionOutcome{album},
		Media:       []scanner.MediaOutcome{media},
	}
	lib := &library.Library{ID: uuid.New(), Type: library.TelevisionLibrary}

	producer := &fakeProducer{}
	errs := scanner.DispatchJobs(context.Background(), producer, lib, outcome)
	assert.Empty(t, errs)

	require.Len(t, producer.ifAbsent, 1)
	request := producer.ifAbsent[0]
	assert.Equal(t, "Example Show", request.Title)
	require.NotNil(t, request.SeasonNumber)
	assert.Equal(t, 1, *request.SeasonNumber)
	require.NotNil(t, request.EpisodeNumber)
	assert.Equal(t, 5, *request.EpisodeNumber)

	require.Len(t, producer.collections, 1)
	assert.Equal(t, "Example Artist", producer.collections[0].request.ParentName)
}
