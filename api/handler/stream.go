package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/config"
	"github.com/ddevcap/streamgate/crypto"
	"github.com/ddevcap/streamgate/token"
	"github.com/ddevcap/streamgate/util"
)

// Streamer is the backend service: it verifies the sealed token on a stream
// request and delivers bytes from whichever source the token names.
type Streamer struct {
	cfg    config.Config
	stores *Stores
	client *http.Client
}

// NewStreamer wires the backend service. The upstream client pools
// connections and deliberately has no overall timeout: streams are
// long-lived and are cancelled through the request context instead.
func NewStreamer(cfg config.Config, stores *Stores) *Streamer {
	return &Streamer{
		cfg:    cfg,
		stores: stores,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          64,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Stream handles GET {backend_path}?sign=…&proxy_mode=….
func (h *Streamer) Stream(c *gin.Context) {
	params := token.ParseParams(c.Request.URL.Query())
	if params.Sign == "" {
		writeError(c, ErrEmptySignature)
		return
	}

	tok, err := h.openToken(params.Sign)
	if err != nil {
		writeError(c, err)
		return
	}
	if !tok.Valid() {
		writeError(c, ErrExpiredStream)
		return
	}

	bucket := h.stores.Limiters.Fetch(deviceID(c))

	if tok.IsLocal() {
		h.serveLocalFile(c, tok.LocalPath(), bucket)
		return
	}
	if params.ProxyMode == "redirect" {
		h.redirectRemote(c, tok.URI)
		return
	}
	h.proxyRemote(c, tok.URI, bucket)
}

// openToken decrypts a sealed sign, going through the decrypt cache keyed by
// the lowercased sign fingerprint.
func (h *Streamer) openToken(sign string) (token.Token, error) {
	key := util.MD5Hex(strings.ToLower(sign))
	if tok, ok := h.stores.Opened.Get(key); ok {
		return tok, nil
	}

	dict, err := crypto.Decrypt(sign, h.cfg.EncipherKey, h.cfg.EncipherIV)
	if err != nil {
		slog.Error("opening stream token failed", "error", err)
		return token.Token{}, ErrInvalidSignature
	}
	tok := token.FromMap(dict)
	h.stores.Opened.Set(key, tok)
	return tok, nil
}

// redirectRemote answers redirect mode: a 302 at the origin with the client
// headers carried over, Host stripped, and the configured User-Agent
// substituted when set.
func (h *Streamer) redirectRemote(c *gin.Context, target string) {
	if h.cfg.ProxyUserAgent != "" {
		c.Request.Header.Set("User-Agent", h.cfg.ProxyUserAgent)
	}
	slog.Info("redirecting stream to origin", "target", util.RedactURL(target))
	redirectWithHeaders(c, target)
}
