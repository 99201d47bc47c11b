package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/util"
)

// queryCI returns the first query value whose key matches name
// case-insensitively, preserving the order the client sent.
func queryCI(rawQuery, name string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if !strings.EqualFold(k, name) {
			continue
		}
		if decoded, err := url.QueryUnescape(v); err == nil {
			return decoded
		}
		return v
	}
	return ""
}

// upstreamTokenCI scans the raw query in order for api_key or X-Emby-Token,
// case-insensitively, first non-empty wins.
func upstreamTokenCI(rawQuery string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if !strings.EqualFold(k, "api_key") && !strings.EqualFold(k, "X-Emby-Token") {
			continue
		}
		decoded, err := url.QueryUnescape(v)
		if err != nil {
			decoded = v
		}
		if decoded != "" {
			return decoded
		}
	}
	return ""
}

// deviceID identifies the playback device for throttling: the DeviceId
// query parameter when present, the client IP otherwise.
func deviceID(c *gin.Context) string {
	if id := queryCI(c.Request.URL.RawQuery, "DeviceId"); id != "" {
		return id
	}
	return c.ClientIP()
}

// fingerprint derives the shared cache key for an (item, media source)
// pair. Empty components are a client error — they would alias cache slots.
func fingerprint(itemID, mediaSourceID string) (string, error) {
	if itemID == "" || mediaSourceID == "" {
		return "", ErrInvalidMediaSource
	}
	return util.MD5Hex(strings.ToLower(itemID + ":" + mediaSourceID)), nil
}

// redirectWithHeaders emits a 302 carrying the original request headers
// (minus Host) so the next hop sees the client as it was.
func redirectWithHeaders(c *gin.Context, target string) {
	out := c.Writer.Header()
	for name, values := range c.Request.Header {
		if strings.EqualFold(name, "Host") {
			continue
		}
		out[name] = values
	}
	c.Redirect(http.StatusFound, target)
}
