package hls

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// ProbeResult is the slice of ffprobe's JSON output the playlist writer
// needs.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type ProbeFormat struct {
	BitRate string `json:"bit_rate"`
}

type ProbeStream struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"` // video, audio, subtitle, data
	Tags      map[string]string `json:"tags"`
}

// Title returns the stream's title tag, or "" when absent.
func (s ProbeStream) Title() string { return s.Tags["title"] }

// Language returns the stream's language tag, defaulting to "und".
func (s ProbeStream) Language() string {
	if lang, ok := s.Tags["language"]; ok && lang != "" {
		return lang
	}
	return "und"
}

// probe runs the probe tool against the source and parses its JSON output.
func probe(ctx context.Context, probeBin, sourcePath string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, probeBin,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		sourcePath,
	)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("hls: %s failed: %s", probeBin, exitErr.Stderr)
		}
		return nil, fmt.Errorf("hls: running %s: %w", probeBin, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("hls: parsing %s output: %w", probeBin, err)
	}
	return &result, nil
}
