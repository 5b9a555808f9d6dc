// Package tmdb implements a metadata provider backed by The Movie Database
// API (https://developer.themoviedb.org/reference/intro/getting-started).
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ceres-media/ceres/internal/scrape"
)

const (
	tmdbBaseURL  = "https://api.themoviedb.org/3"
	tmdbImageURL = "https://image.tmdb.org/t/p/original"

	requestTimeout = 15 * time.Second
	maxRetries     = 3
)

type Config struct {
	APIKey string `yaml:"api_key" env:"TMDB_API_KEY"`
}

type tmdbError struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// getJSON performs a GET against the TMDB API and decodes the response in
// to target. Rate-limit responses, server errors and connection failures
// are retried in-call with capped exponential backoff and jitter; any other
// client error is permanent and surfaces immediately.
func (p *tmdbProvider) getJSON(ctx context.Context, url string, target interface{}) error {
	operation := func() error {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(&scrape.PermanentError{Err: err})
		}

		response, err := p.client.Do(request)
		if err != nil {
			return &scrape.TransientError{Err: err}
		}
		defer response.Body.Close()

		body, err := io.ReadAll(response.Body)
		if err != nil {
			return &scrape.TransientError{Err: err}
		}

		if response.StatusCode != http.StatusOK {
			var apiErr tmdbError
			message := "non-OK response could not be unmarshalled"
			if err := json.Unmarshal(body, &apiErr); err == nil {
				message = apiErr.StatusMessage
			}

			failure := fmt.Errorf("TMDB request failed: %s", message)
			if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
				return &scrape.TransientError{Status: response.StatusCode, Err: failure}
			}
			return backoff.Permanent(&scrape.PermanentError{Status: response.StatusCode, Err: failure})
		}

		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(&scrape.PermanentError{Err: fmt.Errorf("TMDB response could not be unmarshalled: %w", err)})
		}

		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx))
}
