package scrape

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/pkg/logger"
)

var registryLogger = logger.Get("ScrapeRegistry")

// Registry holds the closed set of metadata providers in priority order.
// Selection walks the providers front to back, so the order providers are
// registered in decides which one is preferred when several could serve the
// same request.
type Registry struct {
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Get returns the provider with the given ID, or nil if no such provider
// is registered.
func (reg *Registry) Get(id string) Provider {
	for _, p := range reg.providers {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// CandidatesFor returns the registered providers, in priority order, which
// are configured, serve the given library type and advertise the given
// capability.
func (reg *Registry) CandidatesFor(libraryType library.LibraryType, cap Capability) []Provider {
	candidates := make([]Provider, 0, len(reg.providers))
	for _, p := range reg.providers {
		if !p.Configured() {
			continue
		}
		if !p.Supports(libraryType) || !p.Capabilities().Has(cap) {
			continue
		}
		candidates = append(candidates, p)
	}
	return candidates
}

// searchFn performs a capability-gated search against a single provider, and
// fetchFn resolves one of its results in to a full record.
type (
	searchFn func(ctx context.Context, p Provider, hints SearchHints) ([]SearchResult, error)
	fetchFn  func(ctx context.Context, p Provider, externalID string) (*Record, error)
)

// ResolveVideo searches the eligible providers for a standalone video (film)
// matching the hints and fetches the full record for the best match.
func (reg *Registry) ResolveVideo(ctx context.Context, libraryType library.LibraryType, hints SearchHints) (*Record, error) {
	return reg.resolve(ctx, libraryType, CapSearchVideo, hints,
		func(ctx context.Context, p Provider, hints SearchHints) ([]SearchResult, error) {
			return p.SearchVideo(ctx, hints)
		},
		func(ctx context.Context, p Provider, externalID string) (*Record, error) {
			return p.FetchVideo(ctx, externalID)
		})
}

// ResolveSeries searches the eligible providers for a TV series matching the
// hints and fetches the full record for the best match.
func (reg *Registry) ResolveSeries(ctx context.Context, libraryType library.LibraryType, hints SearchHints) (*Record, error) {
	return reg.resolve(ctx, libraryType, CapSearchSeries, hints,
		func(ctx context.Context, p Provider, hints SearchHints) ([]SearchResult, error) {
			return p.SearchSeries(ctx, hints)
		},
		func(ctx context.Context, p Provider, externalID string) (*Record, error) {
			return p.FetchSeries(ctx, externalID)
		})
}

// ResolveArtist searches the eligible providers for a music artist matching
// the hints and fetches the full record for the best match.
func (reg *Registry) ResolveArtist(ctx context.Context, libraryType library.LibraryType, hints SearchHints) (*Record, error) {
	return reg.resolve(ctx, libraryType, CapSearchArtist, hints,
		func(ctx context.Context, p Provider, hints SearchHints) ([]SearchResult, error) {
			return p.SearchArtist(ctx, hints)
		},
		func(ctx context.Context, p Provider, externalID string) (*Record, error) {
			return p.FetchArtist(ctx, externalID)
		})
}

// ResolveAlbum searches the eligible providers for an album matching the
// hints and fetches the full record for the best match.
func (reg *Registry) ResolveAlbum(ctx context.Context, libraryType library.LibraryType, hints SearchHints) (*Record, error) {
	return reg.resolve(ctx, libraryType, CapSearchAlbum, hints,
		func(ctx context.Context, p Provider, hints SearchHints) ([]SearchResult, error) {
			return p.SearchAlbum(ctx, hints)
		},
		func(ctx context.Context, p Provider, externalID string) (*Record, error) {
			return p.FetchAlbum(ctx, externalID)
		})
}

// resolve runs the provider selection algorithm: each candidate provider is
// searched in priority order, its results ranked against the hints, and the
// top ranked result fetched in full. The first provider to produce a record
// wins. A provider which errors is logged and skipped so one flaky upstream
// cannot mask a healthy fallback; if no provider produces a record, a nil
// record and nil error are returned so the caller can treat the entity as
// simply unmatched.
func (reg *Registry) resolve(ctx context.Context, libraryType library.LibraryType, cap Capability, hints SearchHints, search searchFn, fetch fetchFn) (*Record, error) {
	candidates := reg.CandidatesFor(libraryType, cap)
	if len(candidates) == 0 {
		registryLogger.Warnf("No configured provider is capable of searching for %q (library type %s)\n", hints.Title, libraryType)
		return nil, nil
	}

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := search(ctx, p, hints)
		if err != nil {
			registryLogger.Warnf("Provider %s failed to search for %q: %v\n", p.ID(), hints.Title, err)
			continue
		}
		if len(results) == 0 {
			registryLogger.Debugf("Provider %s returned no results for %q\n", p.ID(), hints.Title)
			continue
		}

		best := rankResults(results, hints)
		record, err := fetch(ctx, p, best.ExternalID)
		if err != nil {
			registryLogger.Warnf("Provider %s failed to fetch %q (%s): %v\n", p.ID(), best.Title, best.ExternalID, err)
			continue
		}
		if record != nil {
			registryLogger.Debugf("Provider %s matched %q -> %q (%s)\n", p.ID(), hints.Title, record.Title, record.ExternalID)
			return record, nil
		}
	}

	return nil, nil
}

// FetchPinned fetches a record directly from a previously matched provider,
// skipping search entirely. An unknown or unconfigured provider ID is a
// permanent failure as retrying cannot make the provider appear.
func (reg *Registry) FetchPinned(ctx context.Context, providerID string, fetch func(ctx context.Context, p Provider) (*Record, error)) (*Record, error) {
	p := reg.Get(providerID)
	if p == nil {
		return nil, &PermanentError{Err: fmt.Errorf("no provider registered with ID %q", providerID)}
	}
	if !p.Configured() {
		return nil, &PermanentError{Err: fmt.Errorf("provider %q is not configured", providerID)}
	}

	record, err := fetch(ctx, p)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return nil, &PermanentError{Err: fmt.Errorf("provider %q: %w", providerID, err)}
		}
		return nil, err
	}
	return record, nil
}

// rankResults orders search results by title similarity to the hints,
// preferring results whose year matches when the hints carry one, and
// returns the winner.
func rankResults(results []SearchResult, hints SearchHints) SearchResult {
	if len(results) == 1 {
		return results[0]
	}

	metric := &metrics.Hamming{CaseSensitive: false}
	scores := make([]float64, len(results))
	for i, res := range results {
		scores[i] = strutil.Similarity(res.Title, hints.Title, metric)
		if hints.Year != nil && res.Year != nil && *res.Year == *hints.Year {
			scores[i] += 1
		}
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	return results[order[0]]
}
