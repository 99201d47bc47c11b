package handler

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/cache"
	"github.com/ddevcap/streamgate/hls"
)

// Segment waiting: the segmenter may still be ahead of the client, so a
// missing spool file is polled briefly before giving up.
const (
	segmentWaitRetries = 10
	segmentWaitDelay   = 500 * time.Millisecond
)

// HLS serves playlist and segment files for on-demand transmux sessions.
type HLS struct {
	manager *hls.Manager
	sources *cache.Store[string]
}

// NewHLS wires the segment server. sources is the item→source mapping the
// resolver populates when it detects an HLS request.
func NewHLS(manager *hls.Manager, sources *cache.Store[string]) *HLS {
	return &HLS{manager: manager, sources: sources}
}

// ServeFile handles GET /videos/:itemId/*file on the backend listener:
// ensures the transmux session for the item's source and serves the
// requested spool file once it exists.
func (h *HLS) ServeFile(c *gin.Context) {
	itemID := c.Param("itemId")
	name := strings.TrimPrefix(c.Param("file"), "/")
	name = strings.TrimPrefix(name, "hls/")

	source, ok := h.sources.Get(itemID)
	if !ok {
		slog.Error("no source mapping for hls item", "item_id", itemID)
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	manifest, err := h.manager.EnsureStream(c.Request.Context(), source)
	if err != nil {
		slog.Error("ensuring hls stream failed", "item_id", itemID, "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	h.manager.Touch(source)

	spool := filepath.Dir(manifest)
	// Clean under a rooted path so ".." cannot escape the spool.
	target := filepath.Join(spool, filepath.Clean("/"+name))

	if !hls.WaitForFile(c.Request.Context(), target, segmentWaitRetries, segmentWaitDelay) {
		slog.Error("hls file never appeared", "item_id", itemID, "file", target)
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.Header("Content-Type", contentTypeFor(target))
	c.Header("Cache-Control", "public, max-age=31536000")
	c.File(target)
}

// contentTypeFor picks the media type for a spool file, with content
// sniffing as the fallback for anything that is not a core HLS type.
func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".vtt":
		return "text/vtt"
	}
	if detected, err := mimetype.DetectFile(path); err == nil {
		return detected.String()
	}
	return "application/octet-stream"
}
