package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/scrape"
)

type (
	searchResponse struct {
		Results []searchResultItem `json:"results"`
	}

	searchResultItem struct {
		ID           json.Number `json:"id"`
		Title        string      `json:"title"`
		Name         string      `json:"name"`
		ReleaseDate  string      `json:"release_date"`
		FirstAirDate string      `json:"first_air_date"`
	}

	genre struct {
		Name string `json:"name"`
	}

	creditsBlock struct {
		Cast []castMember `json:"cast"`
		Crew []crewMember `json:"crew"`
	}

	castMember struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		Character   string      `json:"character"`
		Order       int         `json:"order"`
		ProfilePath string      `json:"profile_path"`
	}

	crewMember struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		Job         string      `json:"job"`
		ProfilePath string      `json:"profile_path"`
	}

	detailResponse struct {
		ID           json.Number  `json:"id"`
		Title        string       `json:"title"`
		Name         string       `json:"name"`
		Tagline      string       `json:"tagline"`
		Overview     string       `json:"overview"`
		ReleaseDate  string       `json:"release_date"`
		FirstAirDate string       `json:"first_air_date"`
		AirDate      string       `json:"air_date"`
		VoteAverage  *float64     `json:"vote_average"`
		Genres       []genre      `json:"genres"`
		PosterPath   string       `json:"poster_path"`
		BackdropPath string       `json:"backdrop_path"`
		StillPath    string       `json:"still_path"`
		SeasonNumber *int         `json:"season_number"`
		EpisodeNum   *int         `json:"episode_number"`
		Credits      creditsBlock `json:"credits"`
	}

	personResponse struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		Biography   string      `json:"biography"`
		Birthday    string      `json:"birthday"`
		ProfilePath string      `json:"profile_path"`
	}

	tmdbProvider struct {
		scrape.UnsupportedProvider
		config  Config
		client  *http.Client
		baseURL string
	}
)

func New(config Config) *tmdbProvider {
	return &tmdbProvider{
		config:  config,
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: tmdbBaseURL,
	}
}

func (p *tmdbProvider) ID() string   { return "tmdb" }
func (p *tmdbProvider) Name() string { return "The Movie Database" }

func (p *tmdbProvider) Capabilities() scrape.CapabilitySet {
	return scrape.Capabilities(
		scrape.CapSearchVideo, scrape.CapSearchSeries,
		scrape.CapFetchVideo, scrape.CapFetchSeries,
		scrape.CapFetchSeason, scrape.CapFetchEpisode,
		scrape.CapFetchPerson,
	)
}

func (p *tmdbProvider) Configured() bool { return p.config.APIKey != "" }

func (p *tmdbProvider) Supports(libraryType library.LibraryType) bool {
	return libraryType == library.TelevisionLibrary || libraryType == library.FilmLibrary
}

func (p *tmdbProvider) SearchVideo(ctx context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	return p.search(ctx, "movie", hints)
}

func (p *tmdbProvider) SearchSeries(ctx context.Context, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	return p.search(ctx, "tv", hints)
}

func (p *tmdbProvider) search(ctx context.Context, kind string, hints scrape.SearchHints) ([]scrape.SearchResult, error) {
	path := fmt.Sprintf("%s/search/%s?query=%s&api_key=%s", p.baseURL, kind, url.QueryEscape(hints.Title), p.config.APIKey)
	if hints.Year != nil {
		param := "year"
		if kind == "tv" {
			param = "first_air_date_year"
		}
		path = fmt.Sprintf("%s&%s=%d", path, param, *hints.Year)
	}

	var response searchResponse
	if err := p.getJSON(ctx, path, &response); err != nil {
		return nil, err
	}

	results := make([]scrape.SearchResult, 0, len(response.Results))
	for _, item := range response.Results {
		title := item.Title
		if title == "" {
			title = item.Name
		}
		date := item.ReleaseDate
		if date == "" {
			date = item.FirstAirDate
		}

		results = append(results, scrape.SearchResult{
			ProviderID: p.ID(),
			ExternalID: item.ID.String(),
			Title:      title,
			Year:       yearOf(date),
		})
	}

	return results, nil
}

func (p *tmdbProvider) FetchVideo(ctx context.Context, externalID string) (*scrape.Record, error) {
	path := fmt.Sprintf("%s/movie/%s?api_key=%s&append_to_response=credits", p.baseURL, externalID, p.config.APIKey)
	return p.fetchDetail(ctx, path, externalID)
}

func (p *tmdbProvider) FetchSeries(ctx context.Context, externalID string) (*scrape.Record, error) {
	path := fmt.Sprintf("%s/tv/%s?api_key=%s&append_to_response=credits", p.baseURL, externalID, p.config.APIKey)
	return p.fetchDetail(ctx, path, externalID)
}

func (p *tmdbProvider) FetchSeason(ctx context.Context, seriesExternalID string, season int) (*scrape.Record, error) {
	path := fmt.Sprintf("%s/tv/%s/season/%d?api_key=%s", p.baseURL, seriesExternalID, season, p.config.APIKey)
	return p.fetchDetail(ctx, path, seriesExternalID)
}

func (p *tmdbProvider) FetchEpisode(ctx context.Context, seriesExternalID string, season int, episode int) (*scrape.Record, error) {
	path := fmt.Sprintf("%s/tv/%s/season/%d/episode/%d?api_key=%s&append_to_response=credits", p.baseURL, seriesExternalID, season, episode, p.config.APIKey)
	return p.fetchDetail(ctx, path, seriesExternalID)
}

func (p *tmdbProvider) FetchPerson(ctx context.Context, externalID string) (*scrape.Record, error) {
	path := fmt.Sprintf("%s/person/%s?api_key=%s", p.baseURL, externalID, p.config.APIKey)

	var response personResponse
	if err := p.getJSON(ctx, path, &response); err != nil {
		return nil, err
	}

	record := &scrape.Record{
		Provider:   p.ID(),
		ExternalID: response.ID.String(),
		Title:      response.Name,
		Images:     map[library.ImageType]string{},
	}
	if response.Biography != "" {
		record.Description = &response.Biography
	}
	if response.ProfilePath != "" {
		record.Images[library.PhotoImage] = tmdbImageURL + response.ProfilePath
	}

	return record, nil
}

func (p *tmdbProvider) fetchDetail(ctx context.Context, path string, fallbackID string) (*scrape.Record, error) {
	var response detailResponse
	if err := p.getJSON(ctx, path, &response); err != nil {
		return nil, err
	}

	externalID := response.ID.String()
	if externalID == "" {
		externalID = fallbackID
	}

	title := response.Title
	if title == "" {
		title = response.Name
	}
	date := firstNonEmpty(response.ReleaseDate, response.FirstAirDate, response.AirDate)

	record := &scrape.Record{
		Provider:      p.ID(),
		ExternalID:    externalID,
		Title:         title,
		Rating:        response.VoteAverage,
		SeasonNumber:  response.SeasonNumber,
		EpisodeNumber: response.EpisodeNum,
		Images:        map[library.ImageType]string{},
	}
	if response.Tagline != "" {
		record.Tagline = &response.Tagline
	}
	if response.Overview != "" {
		record.Description = &response.Overview
	}
	if parsed, err := time.Parse(time.DateOnly, date); err == nil {
		record.ReleaseDate = &parsed
	}
	record.Year = yearOf(date)
	for _, g := range response.Genres {
		record.Genres = append(record.Genres, g.Name)
	}

	if response.PosterPath != "" {
		record.Images[library.PosterImage] = tmdbImageURL + response.PosterPath
	}
	if response.BackdropPath != "" {
		record.Images[library.BackdropImage] = tmdbImageURL + response.BackdropPath
	}
	if response.StillPath != "" {
		record.Images[library.ThumbnailImage] = tmdbImageURL + response.StillPath
	}

	record.Credits = mapCredits(response.Credits)
	return record, nil
}

func mapCredits(credits creditsBlock) []scrape.CreditRecord {
	mapped := make([]scrape.CreditRecord, 0, len(credits.Cast)+len(credits.Crew))
	for _, member := range credits.Cast {
		character := member.Character
		mapped = append(mapped, scrape.CreditRecord{
			Name:       member.Name,
			ExternalID: member.ID.String(),
			Role:       library.ActorCredit,
			Character:  &character,
			Position:   member.Order,
			PhotoURL:   profileURL(member.ProfilePath),
		})
	}

	position := len(credits.Cast)
	for _, member := range credits.Crew {
		role, ok := crewRole(member.Job)
		if !ok {
			continue
		}

		mapped = append(mapped, scrape.CreditRecord{
			Name:       member.Name,
			ExternalID: member.ID.String(),
			Role:       role,
			Position:   position,
			PhotoURL:   profileURL(member.ProfilePath),
		})
		position++
	}

	return mapped
}

func crewRole(job string) (library.CreditRole, bool) {
	switch job {
	case "Director":
		return library.DirectorCredit, true
	case "Writer", "Screenplay":
		return library.WriterCredit, true
	case "Producer", "Executive Producer":
		return library.ProducerCredit, true
	case "Original Music Composer":
		return library.ComposerCredit, true
	case "Director of Photography":
		return library.CinematographerCredit, true
	case "Editor":
		return library.EditorCredit, true
	}

	return "", false
}

func profileURL(path string) string {
	if path == "" {
		return ""
	}

	return tmdbImageURL + path
}

func yearOf(date string) *int {
	parsed, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return nil
	}

	year := parsed.Year()
	return &year
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
