// Package musicbrainz implements a metadata provider backed by the
// MusicBrainz web service, with cover art served by the Cover Art Archive.
// MusicBrainz needs no API key but requires an identifying User-Agent.
package musicbrainz

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
	musicbrainzBaseURL = "https://musicbrainz.org/ws/2"
	coverArtBaseURL    = "https://coverartarchive.org"

	defaultUserAgent = "Ceres/1.0 (https://github.com/ceres-media/ceres)"

	requestTimeout = 30 * time.Second
	maxRetries     = 3
)

type Config struct {
	// UserAgent identifies the application to MusicBrainz, which rejects
	// anonymous clients. Leave empty to use the project default.
	UserAgent string `yaml:"user_agent" env:"MUSICBRAINZ_USER_AGENT"`
}

func (p *musicbrainzProvider) getJSON(ctx context.Context, url string, target interface{}) error {
	operation := func() error {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(&scrape.PermanentError{Err: err})
		}
		request.Header.Set("User-Agent", p.userAgent)
		request.Header.Set("Accept", "application/json")

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
			failure := fmt.Errorf("MusicBrainz request failed: %s", response.Status)
			if response.StatusCode == http.StatusServiceUnavailable || response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
				return &scrape.TransientError{Status: response.StatusCode, Err: failure}
			}
			return backoff.Permanent(&scrape.PermanentError{Status: response.StatusCode, Err: failure})
		}

		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(&scrape.PermanentError{Err: fmt.Errorf("MusicBrainz response could not be unmarshalled: %w", err)})
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx))
}
