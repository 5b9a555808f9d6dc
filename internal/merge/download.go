package merge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ceres-media/ceres/internal/library"
)

const downloadTimeout = 30 * time.Second

type (
	// ImageOutcome is the captured result of one artwork download. A merge
	// inspects each outcome individually; one failure never cancels the
	// sibling downloads.
	ImageOutcome struct {
		Type library.ImageType
		URL  string
		Path string
		Err  error
	}

	imageDownloader struct {
		client     *http.Client
		artworkDir string
	}
)

// NewImageDownloader creates a downloader which stores fetched artwork
// beneath the given directory, creating it if needed.
func NewImageDownloader(artworkDir string) (*imageDownloader, error) {
	if err := os.MkdirAll(artworkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artwork directory %s: %w", artworkDir, err)
	}

	return &imageDownloader{
		client:     &http.Client{Timeout: downloadTimeout},
		artworkDir: artworkDir,
	}, nil
}

// DownloadAll fetches each image kind concurrently and gathers the per-kind
// outcomes once all downloads have finished.
func (downloader *imageDownloader) DownloadAll(ctx context.Context, ownerID uuid.UUID, wanted map[library.ImageType]string) []ImageOutcome {
	outcomes := make([]ImageOutcome, 0, len(wanted))
	for imageType, url := range wanted {
		outcomes = append(outcomes, ImageOutcome{Type: imageType, URL: url})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := range outcomes {
		outcome := &outcomes[i]
		group.Go(func() error {
			outcome.Path, outcome.Err = downloader.Download(groupCtx, outcome.URL, fmt.Sprintf("%s-%s", ownerID, outcome.Type))
			// Failures are carried on the outcome, never returned, so one
			// bad download cannot cancel the group.
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

// Download fetches a single remote image and writes it beneath the artwork
// directory under the given base name, returning the stored path.
func (downloader *imageDownloader) Download(ctx context.Context, url string, basename string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to construct request for %s: %w", url, err)
	}

	response, err := downloader.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: unexpected status %d", url, response.StatusCode)
	}

	path := filepath.Join(downloader.artworkDir, basename+imageExtension(url, response.Header.Get("Content-Type")))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artwork file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, response.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write artwork file %s: %w", path, err)
	}

	return path, nil
}

func imageExtension(url string, contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	}

	if ext := strings.ToLower(filepath.Ext(url)); ext == ".png" || ext == ".webp" || ext == ".jpg" || ext == ".jpeg" {
		return ext
	}

	return ".jpg"
}
