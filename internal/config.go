package internal

import (
	"fmt"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/providers/musicbrainz"
	"github.com/ceres-media/ceres/internal/providers/tmdb"
	"github.com/ceres-media/ceres/internal/providers/tvdb"
	"github.com/ceres-media/ceres/internal/queue"
)

const CERES_USER_DIR_SUFFIX = "ceres"

// CeresConfig is the user-supplied configuration for the server, loaded
// from a YAML file with environment variable overrides.
type CeresConfig struct {
	Database    database.DatabaseConfig `yaml:"database"`
	Queue       queue.QueueConfig       `yaml:"queue"`
	TMDB        tmdb.Config             `yaml:"tmdb"`
	TVDB        tvdb.Config             `yaml:"tvdb"`
	MusicBrainz musicbrainz.Config      `yaml:"musicbrainz"`

	ArtworkDirPath   string `yaml:"artwork_dir" env:"ARTWORK_DIR"`
	FFProbeBinPath   string `yaml:"ffprobe_path" env:"FFPROBE_BINARY_PATH" env-default:"ffprobe"`
	WatchLibraries   bool   `yaml:"watch_libraries" env:"WATCH_LIBRARIES" env-default:"true"`
	WatchHoldSeconds int    `yaml:"watch_hold_seconds" env:"WATCH_HOLD_SECONDS" env-default:"30"`
}

// LoadFromFile populates the config from the YAML file at the given path,
// applying env overrides and defaults for anything the file omits.
func (config *CeresConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return nil
}

// getArtworkDir returns the directory downloaded artwork is stored under,
// defaulting to a ceres directory in the user's home when unconfigured.
func (config *CeresConfig) getArtworkDir() string {
	if config.ArtworkDirPath != "" {
		return config.ArtworkDirPath
	}

	dir, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir %s", err))
	}

	return filepath.Join(dir, CERES_USER_DIR_SUFFIX, "artwork")
}
