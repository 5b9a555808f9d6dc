package scanner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ceres-media/ceres/internal/scanner"
)

func intPtr(v int) *int { return &v }

func Test_ParseFileHints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected scanner.FileHints
	}{
		{
			name:  "episodic with dots",
			input: "Some.Show.S01E05",
			expected: scanner.FileHints{
				Title:         "Some Show",
				Episodic:      true,
				SeasonNumber:  intPtr(1),
				EpisodeNumber: intPtr(5),
			},
		},
		{
			name:  "episodic with year",
			input: "Some Show S02E10 (2019)",
			expected: scanner.FileHints{
				Title:         "Some Show",
				Episodic:      true,
				SeasonNumber:  intPtr(2),
				EpisodeNumber: intPtr(10),
				Year:          intPtr(2019),
			},
		},
		{
			name:  "film with year in parens",
			input: "Some Film (2021)",
			expected: scanner.FileHints{
				Title: "Some Film",
				Year:  intPtr(2021),
			},
		},
		{
			name:  "film with bare year",
			input: "Some.Film.1999",
			expected: scanner.FileHints{
				Title: "Some Film",
				Year:  intPtr(1999),
			},
		},
		{
			name:     "plain title",
			input:    "Totally Unremarkable Name",
			expected: scanner.FileHints{Title: "Totally Unremarkable Name"},
		},
		{
			name:     "empty name",
			input:    "",
			expected: scanner.FileHints{Title: ""},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, scanner.ParseFileHints(test.input))
		})
	}
}

func Test_EpisodeNumberFromName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected *int
	}{
		{"01 - Pilot", intPtr(1)},
		{"Episode 3", intPtr(3)},
		{"E05 The One", intPtr(5)},
		{"12.Finale", intPtr(12)},
		{"Pilot", nil},
		{"2001 A Space Odyssey", nil},
		{"", nil},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			assert.Equal(t, test.expected, scanner.EpisodeNumberFromName(test.input))
		})
	}
}

func Test_SeasonNumberFromDirectory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected *int
	}{
		{"Season 1", intPtr(1)},
		{"season.02", intPtr(2)},
		{"SEASON_10", intPtr(10)},
		{"Specials", nil},
		{"Season", nil},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			assert.Equal(t, test.expected, scanner.SeasonNumberFromDirectory(test.input))
		})
	}
}
