package util

import "net/url"

// RedactURL strips query values and userinfo from a URL for logging, so
// signed or tokenized origin links do not leak into logs.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}
