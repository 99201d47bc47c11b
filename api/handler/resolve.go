package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/catalog"
	"github.com/ddevcap/streamgate/config"
	"github.com/ddevcap/streamgate/crypto"
	"github.com/ddevcap/streamgate/mediapath"
	"github.com/ddevcap/streamgate/token"
	"github.com/ddevcap/streamgate/util"
)

// playbackPathPattern matches the plain video endpoints: original / stream,
// with an optional container extension.
var playbackPathPattern = regexp.MustCompile(`^(original|stream)(\.[A-Za-z0-9]+)?$`)

// Resolver is the frontend service: it turns a playback request into a
// signed backend redirect. Lookups are cached at two levels — the catalog
// path and the minted token — so bursts of player probing stay cheap.
type Resolver struct {
	cfg      config.Config
	catalog  catalog.Client
	rewriter *mediapath.Rewriter
	stores   *Stores
}

// NewResolver wires the frontend service.
func NewResolver(cfg config.Config, cat catalog.Client, stores *Stores) *Resolver {
	return &Resolver{
		cfg:      cfg,
		catalog:  cat,
		rewriter: mediapath.NewRewriter(cfg.PathRewritePattern, cfg.PathRewriteReplacement),
		stores:   stores,
	}
}

// Video handles GET /videos/:itemId/*subpath (with optional /emby prefix).
// HLS-shaped subpaths take the HLS branch; the specific match wins over the
// generic original|stream pattern so an HLS URL never reaches the plain
// resolver.
func (h *Resolver) Video(c *gin.Context) {
	itemID := c.Param("itemId")
	subpath := strings.TrimPrefix(c.Param("subpath"), "/")

	switch {
	case isHLSSubpath(subpath):
		h.resolveHLS(c, itemID)
	case playbackPathPattern.MatchString(subpath):
		h.resolvePlayback(c, itemID)
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	}
}

// isHLSSubpath reports whether the subpath asks for HLS delivery: a leading
// hls path segment, or a playlist extension. A bare ".ts" does not count —
// "stream.ts" is a container request, segments always arrive under hls*/.
func isHLSSubpath(subpath string) bool {
	first, _, _ := strings.Cut(subpath, "/")
	if strings.HasPrefix(first, "hls") {
		return true
	}
	return strings.HasSuffix(subpath, ".m3u8")
}

// resolvePlayback runs the full resolve pipeline and answers with a 302 to
// the backend streaming endpoint.
func (h *Resolver) resolvePlayback(c *gin.Context, itemID string) {
	mediaSourceID := queryCI(c.Request.URL.RawQuery, "MediaSourceId")
	key, err := fingerprint(itemID, mediaSourceID)
	if err != nil {
		writeError(c, err)
		return
	}

	tok, ok := h.stores.Minted.Get(key)
	if !ok {
		path, err := h.resolvePath(c, key, itemID, mediaSourceID)
		if err != nil {
			writeError(c, err)
			return
		}
		tok, err = h.mintToken(path)
		if err != nil {
			writeError(c, err)
			return
		}
		h.stores.Minted.Set(key, tok)
	}

	sealed, err := crypto.Encrypt(tok.ToMap(), h.cfg.EncipherKey, h.cfg.EncipherIV)
	if err != nil {
		writeError(c, fmt.Errorf("sealing token: %w", err))
		return
	}

	target := fmt.Sprintf("%s?sign=%s&proxy_mode=%s",
		h.cfg.StreamEndpoint(), url.QueryEscape(sealed), h.cfg.DefaultProxyMode)
	slog.Info("resolved playback",
		"item_id", itemID,
		"media_source_id", mediaSourceID,
		"local", tok.IsLocal(),
	)
	redirectWithHeaders(c, target)
}

// resolveHLS resolves the source path, records the item→source mapping for
// the backend's segment server, and redirects the client to the backend
// master playlist.
func (h *Resolver) resolveHLS(c *gin.Context, itemID string) {
	mediaSourceID := queryCI(c.Request.URL.RawQuery, "MediaSourceId")
	key, err := fingerprint(itemID, mediaSourceID)
	if err != nil {
		writeError(c, err)
		return
	}

	path, err := h.resolvePath(c, key, itemID, mediaSourceID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !mediapath.IsRemote(path) {
		if path, err = mediapath.CanonicalLocal(path, h.cfg.CheckFileExistence); err != nil {
			writeError(c, err)
			return
		}
	}
	h.stores.HLSSources.Set(itemID, path)

	target := strings.TrimRight(h.cfg.BackendURL, "/") + "/videos/" + url.PathEscape(itemID) + "/master.m3u8"
	slog.Info("resolved hls playback", "item_id", itemID, "source", path)
	redirectWithHeaders(c, target)
}

// resolvePath produces the final media path for an item: catalog lookup
// (cached), .strm indirection (cached) and the configured rewrite rule.
func (h *Resolver) resolvePath(c *gin.Context, key, itemID, mediaSourceID string) (string, error) {
	path, ok := h.stores.Paths.Get(key)
	if !ok {
		upstreamToken := h.upstreamToken(c)
		if upstreamToken == "" {
			return "", ErrEmptyUpstreamToken
		}
		var err error
		path, err = h.catalog.ResolvePath(c.Request.Context(), itemID, mediaSourceID, upstreamToken)
		if err != nil {
			return "", err
		}
		h.stores.Paths.Set(key, path)
	}

	if mediapath.IsStrm(path) {
		strmKey := util.MD5Hex(strings.ToLower(path))
		target, ok := h.stores.Strm.Get(strmKey)
		if !ok {
			var err error
			target, err = mediapath.ReadStrm(path)
			if err != nil {
				return "", err
			}
			h.stores.Strm.Set(strmKey, target)
		}
		path = target
	}

	return h.rewriter.Rewrite(path), nil
}

// mintToken converts a resolved path into a capability token. Remote URLs
// sign as-is; local paths canonicalize first so the backend opens exactly
// the file the resolver saw.
func (h *Resolver) mintToken(path string) (token.Token, error) {
	now := time.Now()
	if mediapath.IsRemote(path) {
		if _, err := url.Parse(path); err != nil {
			return token.Token{}, ErrInvalidURI
		}
		return token.New(path, h.cfg.ExpiredSeconds, now), nil
	}
	abs, err := mediapath.CanonicalLocal(path, h.cfg.CheckFileExistence)
	if err != nil {
		return token.Token{}, err
	}
	return token.NewLocal(abs, h.cfg.ExpiredSeconds, now), nil
}

// upstreamToken extracts the catalog token: query (api_key / X-Emby-Token,
// case-insensitive, first wins), then the X-Emby-Token header, then the
// configured fallback key.
func (h *Resolver) upstreamToken(c *gin.Context) string {
	if tok := upstreamTokenCI(c.Request.URL.RawQuery); tok != "" {
		return tok
	}
	if tok := c.GetHeader("X-Emby-Token"); tok != "" {
		return tok
	}
	return h.cfg.CatalogAPIKey
}
