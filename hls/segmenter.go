package hls

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
)

// startSegmenter launches the external segmenter child: stream-copy the
// first video and first audio track into numbered mpegts segments under dir.
// The returned stderr pipe must be drained by the caller's supervisor.
func startSegmenter(segmenterBin, sourcePath, dir string, segmentSeconds uint) (*exec.Cmd, io.ReadCloser, error) {
	segmentPattern := filepath.Join(dir, "segment%05d.ts")

	cmd := exec.Command(segmenterBin,
		"-y",
		"-i", sourcePath,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.FormatUint(uint64(segmentSeconds), 10),
		"-segment_format", "mpegts",
		"-segment_list_size", "0",
		segmentPattern,
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("hls: capturing segmenter stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("hls: starting %s: %w", segmenterBin, err)
	}
	return cmd, stderr, nil
}
