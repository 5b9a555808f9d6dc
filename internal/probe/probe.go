// Package probe wraps the external ffprobe tool to extract duration and
// per-stream codec/language/channel facts from a media file.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Error indicates that probing a file failed; callers are expected to
// degrade (duration zero, no streams) rather than abort ingestion.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("failed to probe %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type (
	// Stream is one audio/video/subtitle stream extracted from a file.
	Stream struct {
		Index    int
		Type     string
		Codec    string
		Language string
		Title    string
		Channels int
		Width    int
		Height   int
		Default  bool
		Forced   bool
	}

	// Result is the distilled output of one probe invocation.
	Result struct {
		DurationSecs float64
		Streams      []Stream
	}

	Prober struct {
		binary string
	}

	ffprobeOutput struct {
		Streams []ffprobeStream `json:"streams"`
		Format  ffprobeFormat   `json:"format"`
	}

	ffprobeStream struct {
		Index       int               `json:"index"`
		CodecName   string            `json:"codec_name"`
		CodecType   string            `json:"codec_type"`
		Channels    int               `json:"channels"`
		Width       int               `json:"width"`
		Height      int               `json:"height"`
		Tags        map[string]string `json:"tags"`
		Disposition struct {
			Default int `json:"default"`
			Forced  int `json:"forced"`
		} `json:"disposition"`
	}

	ffprobeFormat struct {
		Duration string `json:"duration"`
	}
)

// New creates a Prober which will invoke the given ffprobe binary; an
// empty binary path falls back to resolving 'ffprobe' on the PATH.
func New(binary string) *Prober {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}

	return &Prober{binary: binary}
}

// Probe executes ffprobe against the provided path and decodes the JSON
// response in to a Result. A non-zero exit code or unparseable output is
// reported as a *probe.Error.
func (prober *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &Error{Path: path, Err: errors.New("empty path")}
	}

	cmd := exec.CommandContext(ctx, prober.binary,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %s", err, exitDetail(err))}
	}

	var decoded ffprobeOutput
	if err := json.Unmarshal(output, &decoded); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("unparseable ffprobe output: %w", err)}
	}

	result := &Result{
		DurationSecs: parseDuration(decoded.Format.Duration),
		Streams:      make([]Stream, 0, len(decoded.Streams)),
	}
	for _, stream := range decoded.Streams {
		result.Streams = append(result.Streams, Stream{
			Index:    stream.Index,
			Type:     stream.CodecType,
			Codec:    stream.CodecName,
			Language: stream.Tags["language"],
			Title:    stream.Tags["title"],
			Channels: stream.Channels,
			Width:    stream.Width,
			Height:   stream.Height,
			Default:  stream.Disposition.Default == 1,
			Forced:   stream.Disposition.Forced == 1,
		})
	}

	return result, nil
}

func parseDuration(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}

	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || parsed < 0 {
		return 0
	}

	return parsed
}

func exitDetail(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return strings.TrimSpace(string(exitErr.Stderr))
	}

	return err.Error()
}
