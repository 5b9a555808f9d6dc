package tvdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/scrape"
)

type searchResponse struct {
	Data []struct {
		TvdbID string `json:"tvdb_id"`
		Name   string `json:"name"`
		Year   string `json:"year"`
	} `json:"data"`
}

type seriesResponse struct {
	Data struct {
		ID         int    `json:"id"`
		Name       string `json:"name"`
		Overview   string `json:"overview"`
		Year       string `json:"year"`
		FirstAired string `json:"firstAired"`
		Image      string `json:"image"`
		Genres     []struct {
			Name string `json:"name"`
		} `json:"genres"`
		Seasons []struct {
			ID     int    `json:"id"`
			Number int    `json:"number"`
			Image  string `json:"image"`
			Type   struct {
				Type string `json:"type"`
			} `json:"type"`
		} `json:"seasons"`
		Characters []tvdbCharacter `json:"characters"`
	} `json:"data"`
}

type tvdbCharacter struct {
	Name       string `json:"name"`
	PeopleID   int    `json:"peopleId"`
	PersonName string `json:"personName"`
	PeopleType string `json:"peopleType"`
	Sort       int    `json:"sort"`
	Image      string `json:"personImgURL"`
}

type episodesResponse struct {
	Data struct {
		Episodes []struct {
			ID           int    `json:"id"`
			Name         string `json:"name"`
			Overview     string `json:"overview"`
			Aired        string `json:"aired"`
			Image        string `json:"image"`
			SeasonNumber int    `json:"seasonNumber"`
			Number       int    `json:"number"`
		} `json:"episodes"`
	} `json:"data"`
}

type tvdbProvider struct {
	scrape.UnsupportedProvider

	config  Config
	client  *http.Client
	baseURL string

	mu    sync.RWMutex
	token string
}

func New(config Config) scrape.Provider {
	return &tvdbProvider{
		config:  config,
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: tvdbBaseURL,
	}
}

func (p *tvdbProvider) ID() string   { return "tvdb" }
func (p *tvdbProvider) Name() string { return "TheTVDB" }

func (p *tvdbProvider) Capabilities() scrape.CapabilitySet {
	return scrape.Capabilities(
		scrape.CapSearchSeries,
		scrape.CapFetchSeries,
		scrape.CapFetchSeason,
		scrape.CapFetchEpisode,
	)
}

func (p *tvdbProvider) Configured() bool { return p.config.APIKey != "" }

func (p *tvdbProvider) Supports(libraryType library.LibraryType) bool {
	return libraryType == library.TelevisionLibrary
}

func (p *tvdbProvider) SearchSeries(ctx context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	query := url.Values{}
	query.Set("query", hints.Title)
	query.Set("type", "series")
	if hints.Year != nil {
		query.Set("year", strconv.Itoa(*hints.Year))
	}

	var decoded searchResponse
	if err := p.getJSON(ctx, fmt.Sprintf("%s/search?%s", p.baseURL, query.Encode()), &decoded); err != nil {
		return nil, err
	}

	results := make([]scrape.SearchResult, 0, len(decoded.Data))
	for _, entry := range decoded.Data {
		if entry.TvdbID == "" {
			continue
		}
		results = append(results, scrape.SearchResult{
			ProviderID: p.ID(),
			ExternalID: entry.TvdbID,
			Title:      entry.Name,
			Year:       parseYear(entry.Year),
		})
	}
	return results, nil
}

func (p *tvdbProvider) FetchSeries(ctx context.Context, externalID string) (*scrape.Record, error) {
	decoded, err := p.fetchSeries(ctx, externalID)
	if err != nil {
		return nil, err
	}

	record := &scrape.Record{
		Provider:    p.ID(),
		ExternalID:  externalID,
		Title:       decoded.Data.Name,
		Description: optional(decoded.Data.Overview),
		ReleaseDate: parseDate(decoded.Data.FirstAired),
		Year:        parseYear(decoded.Data.Year),
		Images:      imageMap(library.PosterImage, decoded.Data.Image),
	}
	for _, genre := range decoded.Data.Genres {
		record.Genres = append(record.Genres, genre.Name)
	}
	record.Credits = mapCharacters(decoded.Data.Characters)
	return record, nil
}

// FetchSeason resolves the season through the parent series: TVDB keys
// seasons by their own ids, which the catalog never holds, so the season
// of the requested number is picked out of the series payload.
func (p *tvdbProvider) FetchSeason(ctx context.Context, seriesExternalID string, season int) (*scrape.Record, error) {
	decoded, err := p.fetchSeries(ctx, seriesExternalID)
	if err != nil {
		return nil, err
	}

	for _, entry := range decoded.Data.Seasons {
		if entry.Number != season || (entry.Type.Type != "" && entry.Type.Type != "official") {
			continue
		}
		number := season
		return &scrape.Record{
			Provider:     p.ID(),
			ExternalID:   strconv.Itoa(entry.ID),
			Title:        fmt.Sprintf("Season %d", season),
			SeasonNumber: &number,
			Images:       imageMap(library.PosterImage, entry.Image),
		}, nil
	}

	return nil, &scrape.PermanentError{Err: fmt.Errorf("TVDB series %s has no season %d", seriesExternalID, season)}
}

func (p *tvdbProvider) FetchEpisode(ctx context.Context, seriesExternalID string, season int, episode int) (*scrape.Record, error) {
	var decoded episodesResponse
	url := fmt.Sprintf("%s/series/%s/episodes/default?page=0&season=%d", p.baseURL, seriesExternalID, season)
	if err := p.getJSON(ctx, url, &decoded); err != nil {
		return nil, err
	}

	for _, entry := range decoded.Data.Episodes {
		if entry.SeasonNumber != season || entry.Number != episode {
			continue
		}
		seasonNumber, episodeNumber := season, episode
		return &scrape.Record{
			Provider:      p.ID(),
			ExternalID:    strconv.Itoa(entry.ID),
			Title:         entry.Name,
			Description:   optional(entry.Overview),
			ReleaseDate:   parseDate(entry.Aired),
			SeasonNumber:  &seasonNumber,
			EpisodeNumber: &episodeNumber,
			Images:        imageMap(library.ThumbnailImage, entry.Image),
		}, nil
	}

	return nil, &scrape.PermanentError{Err: fmt.Errorf("TVDB series %s has no episode S%02dE%02d", seriesExternalID, season, episode)}
}

func (p *tvdbProvider) fetchSeries(ctx context.Context, externalID string) (*seriesResponse, error) {
	var decoded seriesResponse
	url := fmt.Sprintf("%s/series/%s/extended?meta=characters", p.baseURL, externalID)
	if err := p.getJSON(ctx, url, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// mapCharacters translates TVDB character entries into credits. TVDB mixes
// cast and crew into a single list distinguished by peopleType.
func mapCharacters(characters []tvdbCharacter) []scrape.CreditRecord {
	roles := map[string]library.CreditRole{
		"Actor":    library.ActorCredit,
		"Director": library.DirectorCredit,
		"Writer":   library.WriterCredit,
		"Producer": library.ProducerCredit,
	}

	credits := make([]scrape.CreditRecord, 0, len(characters))
	for _, entry := range characters {
		role, ok := roles[entry.PeopleType]
		if !ok || entry.PersonName == "" {
			continue
		}

		credit := scrape.CreditRecord{
			Name:       entry.PersonName,
			ExternalID: strconv.Itoa(entry.PeopleID),
			Role:       role,
			Position:   entry.Sort,
			PhotoURL:   entry.Image,
		}
		if role == library.ActorCredit && entry.Name != "" {
			character := entry.Name
			credit.Character = &character
		}
		credits = append(credits, credit)
	}
	return credits
}

func parseYear(year string) *int {
	parsed, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return nil
	}
	return &parsed
}

func parseDate(value string) *time.Time {
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

func imageMap(kind library.ImageType, url string) map[library.ImageType]string {
	if url == "" {
		return nil
	}
	return map[library.ImageType]string{kind: url}
}
