package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/cache"
	"github.com/ddevcap/streamgate/util"
)

// proxyChunkSize is the copy buffer for proxied origin bytes.
const proxyChunkSize = 32 * 1024

// proxyRemote pipes an origin byte range through the gateway. Requests
// without a Range header are rejected — this is the guard against clients
// pulling whole files through the proxy. The upstream request shares the
// client request's context, so a client disconnect cancels the origin fetch.
func (h *Streamer) proxyRemote(c *gin.Context, target string, bucket *cache.Bucket) {
	if c.GetHeader("Range") == "" {
		slog.Warn("proxied stream request without range rejected",
			"target", util.RedactURL(target), "ip", c.ClientIP())
		writeError(c, ErrRangeRequired)
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(c, ErrInvalidURI)
		return
	}
	for name, values := range c.Request.Header {
		if strings.EqualFold(name, "Host") {
			continue
		}
		req.Header[name] = values
	}
	if h.cfg.ProxyUserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.ProxyUserAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		slog.Error("origin request failed", "target", util.RedactURL(target), "error", err)
		c.AbortWithStatus(http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Preserve origin status and headers verbatim.
	out := c.Writer.Header()
	for name, values := range resp.Header {
		out[name] = values
	}
	c.Status(resp.StatusCode)

	flusher, canFlush := c.Writer.(http.Flusher)
	ctx := c.Request.Context()
	buf := make([]byte, proxyChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := bucket.Acquire(ctx, int64(n)); err != nil {
				return
			}
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				// Client went away; the deferred Close cancels upstream.
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				slog.Error("origin stream interrupted",
					"target", util.RedactURL(target), "error", readErr)
			}
			return
		}
	}
}
