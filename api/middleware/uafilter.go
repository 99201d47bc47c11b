package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/streamgate/config"
)

// UserAgentFilter rejects playback clients by User-Agent. In allow mode the
// UA must match at least one rule (or the list must be empty); in deny mode
// it must match none. Requests without a User-Agent (or Client header
// fallback) are always rejected.
func UserAgentFilter(cfg config.Config) gin.HandlerFunc {
	allowMode := cfg.IsAllowMode()
	allowRules := lowerAll(cfg.AllowUA)
	denyRules := lowerAll(cfg.DenyUA)

	return func(c *gin.Context) {
		ua := c.GetHeader("User-Agent")
		if ua == "" {
			ua = c.GetHeader("Client")
		}
		if !uaAllowed(ua, allowMode, allowRules, denyRules) {
			slog.Warn("forbidden user-agent", "user_agent", ua, "ip", c.ClientIP())
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func uaAllowed(ua string, allowMode bool, allowRules, denyRules []string) bool {
	if ua == "" {
		return false
	}
	uaLower := strings.ToLower(ua)

	if allowMode {
		if len(allowRules) == 0 {
			return true
		}
		for _, rule := range allowRules {
			if uaMatches(uaLower, rule) {
				return true
			}
		}
		return false
	}

	for _, rule := range denyRules {
		if uaMatches(uaLower, rule) {
			return false
		}
	}
	return true
}

// uaMatches is a lowercase substring match. The "infuse" rule is special:
// it matches the player itself but not its library-scan or downloader
// agents, which identify as infuse-library / infuse-download.
func uaMatches(uaLower, rule string) bool {
	if rule == "infuse" {
		return strings.Contains(uaLower, "infuse") &&
			!strings.Contains(uaLower, "infuse-library") &&
			!strings.Contains(uaLower, "infuse-download")
	}
	return strings.Contains(uaLower, rule)
}

func lowerAll(rules []string) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if trimmed := strings.TrimSpace(r); trimmed != "" {
			out = append(out, strings.ToLower(trimmed))
		}
	}
	return out
}
