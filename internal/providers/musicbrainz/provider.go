package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/scrape"
)

type artistSearchResponse struct {
	Artists []artistEntity `json:"artists"`
}

type artistEntity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Disambiguation string `json:"disambiguation"`
	LifeSpan       struct {
		Begin string `json:"begin"`
	} `json:"life-span"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

type releaseGroupSearchResponse struct {
	ReleaseGroups []releaseGroupEntity `json:"release-groups"`
}

type releaseGroupEntity struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	FirstReleaseDate string `json:"first-release-date"`
	ArtistCredit     []struct {
		Name   string `json:"name"`
		Artist struct {
			ID string `json:"id"`
		} `json:"artist"`
	} `json:"artist-credit"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

type musicbrainzProvider struct {
	scrape.UnsupportedProvider

	userAgent string
	client    *http.Client
	baseURL   string
	coverURL  string
}

func New(config Config) scrape.Provider {
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &musicbrainzProvider{
		userAgent: userAgent,
		client:    &http.Client{Timeout: requestTimeout},
		baseURL:   musicbrainzBaseURL,
		coverURL:  coverArtBaseURL,
	}
}

func (p *musicbrainzProvider) ID() string   { return "musicbrainz" }
func (p *musicbrainzProvider) Name() string { return "MusicBrainz" }

func (p *musicbrainzProvider) Capabilities() scrape.CapabilitySet {
	return scrape.Capabilities(
		scrape.CapSearchArtist,
		scrape.CapSearchAlbum,
		scrape.CapFetchArtist,
		scrape.CapFetchAlbum,
	)
}

// Configured is always true; the MusicBrainz web service is keyless.
func (p *musicbrainzProvider) Configured() bool { return true }

func (p *musicbrainzProvider) Supports(libraryType library.LibraryType) bool {
	return libraryType == library.MusicLibrary
}

func (p *musicbrainzProvider) SearchArtist(ctx context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("artist:%q", hints.Title))
	query.Set("fmt", "json")

	var decoded artistSearchResponse
	if err := p.getJSON(ctx, fmt.Sprintf("%s/artist?%s", p.baseURL, query.Encode()), &decoded); err != nil {
		return nil, err
	}

	results := make([]scrape.SearchResult, 0, len(decoded.Artists))
	for _, entry := range decoded.Artists {
		results = append(results, scrape.SearchResult{
			ProviderID: p.ID(),
			ExternalID: entry.ID,
			Title:      entry.Name,
			Year:       yearOf(entry.LifeSpan.Begin),
		})
	}
	return results, nil
}

func (p *musicbrainzProvider) SearchAlbum(ctx context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	terms := []string{fmt.Sprintf("releasegroup:%q", hints.Title)}
	if hints.Artist != "" {
		terms = append(terms, fmt.Sprintf("artist:%q", hints.Artist))
	}

	query := url.Values{}
	query.Set("query", strings.Join(terms, " AND "))
	query.Set("fmt", "json")

	var decoded releaseGroupSearchResponse
	if err := p.getJSON(ctx, fmt.Sprintf("%s/release-group?%s", p.baseURL, query.Encode()), &decoded); err != nil {
		return nil, err
	}

	results := make([]scrape.SearchResult, 0, len(decoded.ReleaseGroups))
	for _, entry := range decoded.ReleaseGroups {
		results = append(results, scrape.SearchResult{
			ProviderID: p.ID(),
			ExternalID: entry.ID,
			Title:      entry.Title,
			Year:       yearOf(entry.FirstReleaseDate),
		})
	}
	return results, nil
}

func (p *musicbrainzProvider) FetchArtist(ctx context.Context, externalID string) (*scrape.Record, error) {
	var decoded artistEntity
	url := fmt.Sprintf("%s/artist/%s?fmt=json&inc=genres", p.baseURL, externalID)
	if err := p.getJSON(ctx, url, &decoded); err != nil {
		return nil, err
	}

	record := &scrape.Record{
		Provider:    p.ID(),
		ExternalID:  externalID,
		Title:       decoded.Name,
		Description: optional(decoded.Disambiguation),
		Year:        yearOf(decoded.LifeSpan.Begin),
	}
	for _, genre := range decoded.Genres {
		record.Genres = append(record.Genres, genre.Name)
	}
	return record, nil
}

func (p *musicbrainzProvider) FetchAlbum(ctx context.Context, externalID string) (*scrape.Record, error) {
	var decoded releaseGroupEntity
	url := fmt.Sprintf("%s/release-group/%s?fmt=json&inc=genres+artist-credits", p.baseURL, externalID)
	if err := p.getJSON(ctx, url, &decoded); err != nil {
		return nil, err
	}

	record := &scrape.Record{
		Provider:    p.ID(),
		ExternalID:  externalID,
		Title:       decoded.Title,
		ReleaseDate: dateOf(decoded.FirstReleaseDate),
		Year:        yearOf(decoded.FirstReleaseDate),
		Images: map[library.ImageType]string{
			// The Cover Art Archive serves the front cover for any release
			// group directly; groups without art return 404 and the download
			// failure is reported per image rather than failing the scrape.
			library.PosterImage: fmt.Sprintf("%s/release-group/%s/front", p.coverURL, externalID),
		},
	}
	for _, genre := range decoded.Genres {
		record.Genres = append(record.Genres, genre.Name)
	}
	return record, nil
}

// yearOf extracts the year from a MusicBrainz date, which may be a bare
// year, year-month, or a full date.
func yearOf(value string) *int {
	if len(value) < 4 {
		return nil
	}
	parsed, err := strconv.Atoi(value[:4])
	if err != nil {
		return nil
	}
	return &parsed
}

func dateOf(value string) *time.Time {
	parsed, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
