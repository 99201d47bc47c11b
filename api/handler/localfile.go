package handler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/cache"
)

// Adaptive chunking: small chunks first so the player sees bytes quickly,
// larger chunks afterwards to amortize per-chunk overhead.
const (
	initialChunkCount = 8
	initialChunkSize  = 16 * 1024
	standardChunkSize = 256 * 1024
)

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// byteRange is a resolved, inclusive client byte range.
type byteRange struct {
	start, end uint64
}

func (r byteRange) length() uint64 { return r.end - r.start + 1 }

var errUnsatisfiableRange = errors.New("unsatisfiable range")

// parseRange resolves a Range header against the file size. An empty header
// yields the full file. A missing end resolves to size-1; start past end or
// past the file is unsatisfiable.
func parseRange(header string, size uint64) (byteRange, bool, error) {
	if header == "" {
		if size == 0 {
			return byteRange{}, false, errUnsatisfiableRange
		}
		return byteRange{start: 0, end: size - 1}, false, nil
	}

	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return byteRange{}, false, errUnsatisfiableRange
	}
	start, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return byteRange{}, false, errUnsatisfiableRange
	}
	end := size - 1
	if m[2] != "" {
		if end, err = strconv.ParseUint(m[2], 10, 64); err != nil {
			return byteRange{}, false, errUnsatisfiableRange
		}
	}
	if size == 0 || start >= size || start > end {
		return byteRange{}, false, errUnsatisfiableRange
	}
	if end > size-1 {
		end = size - 1
	}
	return byteRange{start: start, end: end}, true, nil
}

// serveLocalFile streams a byte range of a local file. Reads run on their
// own goroutine feeding a bounded channel, so a stalled client applies
// backpressure to the disk reader instead of growing a buffer.
func (h *Streamer) serveLocalFile(c *gin.Context, path string, bucket *cache.Bucket) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Error("media file missing", "path", path)
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		writeError(c, fmt.Errorf("opening %s: %w", path, err))
		return
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		writeError(c, fmt.Errorf("stat %s: %w", path, err))
		return
	}
	size := uint64(info.Size())

	rng, partial, err := parseRange(c.GetHeader("Range"), size)
	if err != nil {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.AbortWithStatus(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	header := c.Writer.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Length", strconv.FormatUint(rng.length(), 10))
	if ctype := mime.TypeByExtension(filepath.Ext(path)); ctype != "" {
		header.Set("Content-Type", ctype)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	}
	c.Status(status)

	if _, err := file.Seek(int64(rng.start), io.SeekStart); err != nil {
		slog.Error("seek failed", "path", path, "offset", rng.start, "error", err)
		return
	}

	chunks := make(chan []byte, channelSize(rng.length()))
	ctx := c.Request.Context()

	go func() {
		defer close(chunks)
		reader := io.LimitReader(file, int64(rng.length()))
		for sent := 0; ; sent++ {
			chunkSize := standardChunkSize
			if sent < initialChunkCount {
				chunkSize = initialChunkSize
			}
			buf := make([]byte, chunkSize)
			n, err := reader.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Error("reading media file", "path", path, "error", err)
				}
				return
			}
		}
	}()

	flusher, canFlush := c.Writer.(http.Flusher)
	for chunk := range chunks {
		if err := bucket.Acquire(ctx, int64(len(chunk))); err != nil {
			return
		}
		if _, err := c.Writer.Write(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// channelSize bounds the reader→writer handoff queue relative to the
// transfer size.
func channelSize(transfer uint64) int {
	n := transfer / standardChunkSize
	if n < 4 {
		return 4
	}
	if n > 128 {
		return 128
	}
	return int(n)
}
