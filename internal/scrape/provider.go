package scrape

import (
	"context"
	"time"

	"github.com/ceres-media/ceres/internal/library"
)

// Capability identifies a single operation a metadata provider may support.
// Providers advertise their capabilities as a set, and the registry consults
// the set before dispatching any call: a provider is never asked to perform
// an operation it has not advertised.
type Capability uint16

const (
	CapSearchVideo Capability = 1 << iota
	CapSearchSeries
	CapSearchArtist
	CapSearchAlbum
	CapFetchVideo
	CapFetchSeries
	CapFetchSeason
	CapFetchEpisode
	CapFetchArtist
	CapFetchAlbum
	CapFetchPerson
)

// CapabilitySet is a bitmask of provider capabilities.
type CapabilitySet uint16

func Capabilities(caps ...Capability) CapabilitySet {
	var set CapabilitySet
	for _, c := range caps {
		set |= CapabilitySet(c)
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool { return s&CapabilitySet(c) != 0 }

// SearchHints carries the filesystem-derived information available when
// searching a provider for a match. All fields other than Title are optional
// and providers use whichever subset they can.
type SearchHints struct {
	Title  string
	Year   *int
	Artist string
}

// SearchResult is a single candidate match returned by a provider search.
type SearchResult struct {
	ProviderID string
	ExternalID string
	Title      string
	Year       *int
}

// CreditRecord is one cast or crew entry as reported by a provider.
type CreditRecord struct {
	Name       string
	ExternalID string
	Role       library.CreditRole
	Character  *string
	Position   int
	PhotoURL   string
}

// Record is the provider-neutral representation of scraped metadata for a
// single entity. The merge layer maps it onto the catalog without knowing
// which provider produced it.
type Record struct {
	Provider   string
	ExternalID string

	Title       string
	Tagline     *string
	Description *string
	ReleaseDate *time.Time
	Year        *int
	Rating      *float64
	Genres      []string

	SeasonNumber  *int
	EpisodeNumber *int

	// Images maps an image kind to the remote URL it can be downloaded from.
	Images map[library.ImageType]string

	Credits []CreditRecord
}

// Provider is the interface every metadata source implements. A provider
// only has to implement the operations named by its capability set; all
// other methods should return ErrUnsupported (embed UnsupportedProvider to
// get that behaviour for free).
type Provider interface {
	// ID is the stable identifier persisted alongside scraped metadata and
	// used to pin follow-up scrapes to the provider that matched.
	ID() string
	Name() string
	Capabilities() CapabilitySet

	// Configured reports whether the provider has the configuration it needs
	// (typically an API key). Unconfigured providers are skipped during
	// selection rather than failing the scrape.
	Configured() bool

	// Supports reports whether the provider serves libraries of this type.
	Supports(libraryType library.LibraryType) bool

	SearchVideo(ctx context.Context, hints SearchHints) ([]SearchResult, error)
	SearchSeries(ctx context.Context, hints SearchHints) ([]SearchResult, error)
	SearchArtist(ctx context.Context, hints SearchHints) ([]SearchResult, error)
	SearchAlbum(ctx context.Context, hints SearchHints) ([]SearchResult, error)

	FetchVideo(ctx context.Context, externalID string) (*Record, error)
	FetchSeries(ctx context.Context, externalID string) (*Record, error)
	FetchSeason(ctx context.Context, seriesExternalID string, season int) (*Record, error)
	FetchEpisode(ctx context.Context, seriesExternalID string, season int, episode int) (*Record, error)
	FetchArtist(ctx context.Context, externalID string) (*Record, error)
	FetchAlbum(ctx context.Context, externalID string) (*Record, error)
	FetchPerson(ctx context.Context, externalID string) (*Record, error)
}

// UnsupportedProvider implements every Provider operation with
// ErrUnsupported. Concrete providers embed it and override only the
// operations in their capability set.
type UnsupportedProvider struct{}

func (UnsupportedProvider) SearchVideo(context.Context, SearchHints) ([]SearchResult, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) SearchSeries(context.Context, SearchHints) ([]SearchResult, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) SearchArtist(context.Context, SearchHints) ([]SearchResult, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) SearchAlbum(context.Context, SearchHints) ([]SearchResult, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchVideo(context.Context, string) (*Record, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchSeries(context.Context, string) (*Record, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchSeason(context.Context, string, int) (*Record, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchEpisode(context.Context, string, int, int) (*Record, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchArtist(context.Context, string) (*Record, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchAlbum(context.Context, string) (*Record, error) {
	return nil, ErrUnsupported
}
func (UnsupportedProvider) FetchPerson(context.Context, string) (*Record, error) {
	return nil, ErrUnsupported
}
