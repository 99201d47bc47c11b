package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/config"
)

// ReverseProxyFilter rejects requests that arrive through an untrusted
// front: when enabled, the request host must match the configured trusted
// host. An unparseable trusted host disables the check rather than locking
// everyone out.
func ReverseProxyFilter(cfg config.Config) gin.HandlerFunc {
	trustedHost := ""
	if cfg.AntiReverseProxy {
		switch u, err := url.Parse(cfg.TrustedHost); {
		case err == nil && u.Host != "":
			trustedHost = u.Host
		case cfg.TrustedHost != "" && !strings.Contains(cfg.TrustedHost, "/"):
			// Bare "host[:port]" form.
			trustedHost = cfg.TrustedHost
		default:
			slog.Error("trusted host does not parse, reverse-proxy filter disabled",
				"trusted_host", cfg.TrustedHost)
		}
	}

	return func(c *gin.Context) {
		if trustedHost == "" {
			c.Next()
			return
		}
		if !strings.EqualFold(c.Request.Host, trustedHost) {
			slog.Warn("forbidden host", "host", c.Request.Host, "trusted_host", trustedHost)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
