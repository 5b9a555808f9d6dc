package scanner

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	normaliserMatcher = regexp.MustCompile(`(?i)[\.\s]`)
	seasonMatcher     = regexp.MustCompile(`(?i)^(.*?)\_?s(\d+)\_?e(\d+)\_*\(?((?:20|19)\d{2})?\)?`)
	yearMatcher       = regexp.MustCompile(`(?i)^(.+?)\_*\(?((?:20|19)\d{2})\)?`)
	seasonDirMatcher  = regexp.MustCompile(`(?i)^season\_*(\d+)`)
	episodeMatcher    = regexp.MustCompile(`(?i)^\_*(?:e(?:pisode)?\_*)?(\d{1,3})(?:\_|\-|$)`)
)

// FileHints is the information recoverable from on-disk naming alone, used
// to seed provider searches for the backing media.
type FileHints struct {
	Title         string
	Episodic      bool
	SeasonNumber  *int
	EpisodeNumber *int
	Year          *int
}

// ParseFileHints extracts title, season/episode and year hints from a file
// or directory name (extension already stripped). Names that match neither
// the episodic nor the year pattern yield a plain title with no hints; the
// parse itself cannot fail.
func ParseFileHints(name string) FileHints {
	normalized := normaliserMatcher.ReplaceAllString(name, "_")

	if groups := seasonMatcher.FindStringSubmatch(normalized); groups != nil && groups[2] != "" {
		hints := FileHints{
			Title:         prettify(groups[1]),
			Episodic:      true,
			SeasonNumber:  parseNumber(groups[2]),
			EpisodeNumber: parseNumber(groups[3]),
		}
		if groups[4] != "" {
			hints.Year = parseNumber(groups[4])
		}

		return hints
	}

	if groups := yearMatcher.FindStringSubmatch(normalized); groups != nil {
		return FileHints{
			Title: prettify(groups[1]),
			Year:  parseNumber(groups[2]),
		}
	}

	return FileHints{Title: prettify(normalized)}
}

// EpisodeNumberFromName extracts an episode number from names that carry
// only the episode, the common layout for files inside a season directory
// ('01 - Pilot', 'Episode 3', 'E05 Title'). Nil when no leading number is
// present.
func EpisodeNumberFromName(name string) *int {
	normalized := normaliserMatcher.ReplaceAllString(name, "_")
	if groups := episodeMatcher.FindStringSubmatch(normalized); groups != nil {
		return parseNumber(groups[1])
	}

	return nil
}

// SeasonNumberFromDirectory extracts the season number from directory names
// of the form 'Season 2', 'season.02' and similar; nil when the name does
// not follow the convention.
func SeasonNumberFromDirectory(name string) *int {
	normalized := normaliserMatcher.ReplaceAllString(name, "_")
	if groups := seasonDirMatcher.FindStringSubmatch(normalized); groups != nil {
		return parseNumber(groups[1])
	}

	return nil
}

// prettify turns a normalized (underscore-separated) name back in to a
// human readable title.
func prettify(raw string) string {
	cleaned := strings.ReplaceAll(raw, "_", " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

func parseNumber(input string) *int {
	v, err := strconv.Atoi(input)
	if err != nil {
		return nil
	}

	return &v
}
