// Package tvdb implements a metadata provider backed by the TVDB v4 API.
// TVDB serves as the series fallback when TMDB cannot resolve a show.
package tvdb

import (
	"bytes"
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
	tvdbBaseURL = "https://api4.thetvdb.com/v4"

	requestTimeout = 30 * time.Second
	maxRetries     = 3
)

type Config struct {
	APIKey string `yaml:"api_key" env:"TVDB_API_KEY"`
}

type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// login authenticates against the API and caches the issued JWT; TVDB
// tokens are long-lived so one login per process is typically enough.
func (p *tvdbProvider) login(ctx context.Context) (string, error) {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	body, err := json.Marshal(map[string]string{"apikey": p.config.APIKey})
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return "", &scrape.TransientError{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		failure := fmt.Errorf("TVDB login failed: %s", response.Status)
		if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
			return "", &scrape.TransientError{Status: response.StatusCode, Err: failure}
		}
		return "", &scrape.PermanentError{Status: response.StatusCode, Err: failure}
	}

	var decoded loginResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", &scrape.PermanentError{Err: fmt.Errorf("TVDB login response could not be decoded: %w", err)}
	}
	if decoded.Data.Token == "" {
		return "", &scrape.PermanentError{Err: fmt.Errorf("TVDB login response carried no token")}
	}

	p.mu.Lock()
	p.token = decoded.Data.Token
	p.mu.Unlock()
	return decoded.Data.Token, nil
}

// getJSON performs an authenticated GET, retrying transient failures
// in-call with capped exponential backoff. An expired token is discarded
// and re-issued on the next attempt.
func (p *tvdbProvider) getJSON(ctx context.Context, url string, target interface{}) error {
	operation := func() error {
		token, err := p.login(ctx)
		if err != nil {
			return passthrough(err)
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(&scrape.PermanentError{Err: err})
		}
		request.Header.Set("Authorization", "Bearer "+token)

		response, err := p.client.Do(request)
		if err != nil {
			return &scrape.TransientError{Err: err}
		}
		defer response.Body.Close()

		body, err := io.ReadAll(response.Body)
		if err != nil {
			return &scrape.TransientError{Err: err}
		}

		switch {
		case response.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, target); err != nil {
				return backoff.Permanent(&scrape.PermanentError{Err: fmt.Errorf("TVDB response could not be unmarshalled: %w", err)})
			}
			return nil
		case response.StatusCode == http.StatusUnauthorized:
			// Token expired; clear it and retry with a fresh login.
			p.mu.Lock()
			p.token = ""
			p.mu.Unlock()
			return &scrape.TransientError{Status: response.StatusCode, Err: fmt.Errorf("TVDB token rejected")}
		case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500:
			return &scrape.TransientError{Status: response.StatusCode, Err: fmt.Errorf("TVDB request failed: %s", response.Status)}
		default:
			return backoff.Permanent(&scrape.PermanentError{Status: response.StatusCode, Err: fmt.Errorf("TVDB request failed: %s", response.Status)})
		}
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx))
}

// passthrough keeps permanent login failures permanent for the retry loop.
func passthrough(err error) error {
	if !scrape.IsTransient(err) {
		return backoff.Permanent(err)
	}
	return err
}
