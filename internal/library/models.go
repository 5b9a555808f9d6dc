package library

import (
	"time"

	"github.com/google/uuid"

	"github.com/ceres-media/ceres/internal/database"
)

type (
	// LibraryType determines the file extensions a scan will consider, and
	// how directory depth maps to collection variants.
	LibraryType string

	// CollectionType is the variant of a hierarchical grouping node.
	CollectionType string

	// MediaKind distinguishes file-backed playable entries.
	MediaKind string

	// OwnerKind identifies which catalog entity a detail/credit/image row
	// is attached to.
	OwnerKind string

	// CreditRole is the attribution a credit row carries.
	CreditRole string

	// ImageType tags a downloaded artwork asset.
	ImageType string
)

const (
	TelevisionLibrary LibraryType = "television"
	FilmLibrary       LibraryType = "film"
	MusicLibrary      LibraryType = "music"

	ShowCollection    CollectionType = "show"
	SeasonCollection  CollectionType = "season"
	FilmCollection    CollectionType = "film"
	ArtistCollection  CollectionType = "artist"
	AlbumCollection   CollectionType = "album"
	GenericCollection CollectionType = "generic"

	VideoMedia MediaKind = "video"
	AudioMedia MediaKind = "audio"

	MediaOwner      OwnerKind = "media"
	CollectionOwner OwnerKind = "collection"

	ActorCredit           CreditRole = "actor"
	DirectorCredit        CreditRole = "director"
	WriterCredit          CreditRole = "writer"
	ProducerCredit        CreditRole = "producer"
	ComposerCredit        CreditRole = "composer"
	CinematographerCredit CreditRole = "cinematographer"
	EditorCredit          CreditRole = "editor"

	PosterImage    ImageType = "poster"
	BackdropImage  ImageType = "backdrop"
	ThumbnailImage ImageType = "thumbnail"
	LogoImage      ImageType = "logo"
	PhotoImage     ImageType = "photo"
)

type (
	// Library is a root scan target.
	Library struct {
		ID        uuid.UUID   `db:"id"`
		Name      string      `db:"name"`
		Path      string      `db:"path"`
		Type      LibraryType `db:"type"`
		CreatedAt time.Time   `db:"created_at"`
		UpdatedAt time.Time   `db:"updated_at"`
	}

	// Collection is a hierarchical node under a library. A collection is
	// unique per (library, name, parent); the season number and year are
	// hints recovered from the on-disk naming, not scraped facts.
	Collection struct {
		ID           uuid.UUID      `db:"id"`
		LibraryID    uuid.UUID      `db:"library_id"`
		ParentID     *uuid.UUID     `db:"parent_id"`
		Type         CollectionType `db:"type"`
		Name         string         `db:"name"`
		SeasonNumber *int           `db:"season_number"`
		Year         *int           `db:"year"`
		CreatedAt    time.Time      `db:"created_at"`
		UpdatedAt    time.Time      `db:"updated_at"`
	}

	// Media is a file-backed playable entry, optionally owned by a
	// collection. Unique per path.
	Media struct {
		ID           uuid.UUID  `db:"id"`
		LibraryID    uuid.UUID  `db:"library_id"`
		CollectionID *uuid.UUID `db:"collection_id"`
		Kind         MediaKind  `db:"kind"`
		Name         string     `db:"name"`
		Path         string     `db:"path"`
		DurationSecs float64    `db:"duration_secs"`
		CreatedAt    time.Time  `db:"created_at"`
		UpdatedAt    time.Time  `db:"updated_at"`
	}

	// MediaStream is one audio/video/subtitle stream owned by a Media row,
	// produced entirely by the prober.
	MediaStream struct {
		ID          uuid.UUID `db:"id"`
		MediaID     uuid.UUID `db:"media_id"`
		StreamIndex int       `db:"stream_index"`
		StreamType  string    `db:"stream_type"`
		Codec       string    `db:"codec"`
		Language    string    `db:"language"`
		Title       string    `db:"title"`
		Channels    int       `db:"channels"`
		Width       int       `db:"width"`
		Height      int       `db:"height"`
		IsDefault   bool      `db:"is_default"`
		IsForced    bool      `db:"is_forced"`
	}

	// Details is the scraped metadata attached to a single Media or
	// Collection. One row per owner; upserted field-by-field on apply.
	Details struct {
		ID            uuid.UUID  `db:"id"`
		OwnerID       uuid.UUID  `db:"owner_id"`
		OwnerKind     OwnerKind  `db:"owner_kind"`
		Provider      string     `db:"provider"`
		ExternalID    string     `db:"external_id"`
		Title         string     `db:"title"`
		Tagline       string     `db:"tagline"`
		Description   string     `db:"description"`
		ReleaseDate   *time.Time `db:"release_date"`
		Year          *int       `db:"year"`
		Rating        *float64   `db:"rating"`
		SeasonNumber  *int       `db:"season_number"`
		EpisodeNumber *int       `db:"episode_number"`

		Genres database.JsonColumn[[]string] `db:"genres"`

		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}

	// Person is a deduplicated credit target, resolved by the external
	// provider identity it was first seen under.
	Person struct {
		ID         uuid.UUID `db:"id"`
		Name       string    `db:"name"`
		Provider   string    `db:"provider"`
		ExternalID string    `db:"external_id"`
		PhotoPath  *string   `db:"photo_path"`
	}

	// Credit is a role attribution on a Media or Collection detail record.
	Credit struct {
		ID        uuid.UUID  `db:"id"`
		OwnerID   uuid.UUID  `db:"owner_id"`
		PersonID  uuid.UUID  `db:"person_id"`
		Role      CreditRole `db:"role"`
		Character string     `db:"character"`
		Position  int        `db:"position"`
	}

	// Image is a downloaded artwork asset. At most one primary image may
	// exist per (owner, type).
	Image struct {
		ID        uuid.UUID `db:"id"`
		OwnerID   uuid.UUID `db:"owner_id"`
		Type      ImageType `db:"image_type"`
		SourceURL string    `db:"source_url"`
		Path      string    `db:"path"`
		IsPrimary bool      `db:"is_primary"`
		CreatedAt time.Time `db:"created_at"`
	}
)

// Extensions returns the file extension set (lower-case, dot-prefixed)
// which a library of this type considers to be media files.
func (t LibraryType) Extensions() map[string]struct{} {
	switch t {
	case MusicLibrary:
		return map[string]struct{}{
			".mp3": {}, ".flac": {}, ".aac": {}, ".ogg": {},
			".wav": {}, ".m4a": {}, ".alac": {}, ".opus": {},
		}
	default:
		return map[string]struct{}{
			".mp4": {}, ".mkv": {}, ".avi": {}, ".mov": {},
			".m4v": {}, ".wmv": {}, ".webm": {}, ".ts": {},
			".mpg": {}, ".mpeg": {},
		}
	}
}

// MediaKind returns the kind of media rows a library of this type produces.
func (t LibraryType) MediaKind() MediaKind {
	if t == MusicLibrary {
		return AudioMedia
	}

	return VideoMedia
}
