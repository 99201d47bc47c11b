package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// StreamMode selects which listeners the process starts.
type StreamMode string

const (
	ModeFrontend StreamMode = "frontend"
	ModeBackend  StreamMode = "backend"
	ModeDual     StreamMode = "dual"
)

// ProxyMode selects how the backend serves remote sources: piping the bytes
// through the gateway, or redirecting the client to the origin.
type ProxyMode string

const (
	ProxyModeProxy    ProxyMode = "proxy"
	ProxyModeRedirect ProxyMode = "redirect"
)

type Config struct {
	// StreamMode is "frontend", "backend" or "dual". Dual starts both
	// listeners in one process sharing the caches.
	StreamMode StreamMode `env:"STREAM_MODE" envDefault:"dual"`
	// ExpiredSeconds is the lifetime of a minted stream token. Verification
	// adds a 300-second clock-skew grace on top.
	ExpiredSeconds uint64 `env:"EXPIRED_SECONDS" envDefault:"3600"`
	// EncipherKey seals stream tokens. Must be at least 6 bytes; it is
	// normalized to 16 bytes (zero-padded or truncated).
	EncipherKey string `env:"ENCIPHER_KEY"`
	// EncipherIV is the initialization vector for token decryption, same
	// length rules as EncipherKey.
	EncipherIV string `env:"ENCIPHER_IV"`

	// FrontendListenAddr is the address of the token-minting listener.
	FrontendListenAddr string `env:"FRONTEND_LISTEN_ADDR" envDefault:":8095"`
	// BackendListenAddr is the address of the streaming listener.
	BackendListenAddr string `env:"BACKEND_LISTEN_ADDR" envDefault:":8096"`
	// BackendPath is the streaming endpoint on the backend listener.
	BackendPath string `env:"BACKEND_PATH" envDefault:"/stream"`
	// BackendURL is how the frontend addresses the backend in redirect
	// targets, e.g. "https://stream.example.com:8096".
	BackendURL string `env:"BACKEND_URL" envDefault:"http://localhost:8096"`
	// DefaultProxyMode is embedded in minted redirect URLs: "proxy" pipes
	// origin bytes through the gateway, "redirect" 302s to the origin.
	DefaultProxyMode ProxyMode `env:"PROXY_MODE" envDefault:"proxy"`
	// ProxyUserAgent, when non-empty, replaces the client User-Agent on
	// proxied upstream fetches and redirect-mode headers.
	ProxyUserAgent string `env:"PROXY_USER_AGENT"`

	// CatalogURL is the base URL of the upstream media-library server that
	// resolves item IDs to media source paths.
	CatalogURL string `env:"CATALOG_URL" envDefault:"http://localhost:8920"`
	// CatalogAPIKey is the fallback upstream token used when the client
	// request carries none.
	CatalogAPIKey string `env:"CATALOG_API_KEY"`

	// CheckFileExistence makes the resolver 404 when a resolved local path
	// does not exist, instead of signing it blindly.
	CheckFileExistence bool `env:"CHECK_FILE_EXISTENCE" envDefault:"true"`
	// PathRewritePattern / PathRewriteReplacement apply a regex substitution
	// to resolved paths before signing. Empty pattern disables rewriting.
	PathRewritePattern     string `env:"PATH_REWRITE_PATTERN"`
	PathRewriteReplacement string `env:"PATH_REWRITE_REPLACEMENT"`

	// AntiReverseProxy rejects requests whose Host does not match the host of
	// TrustedHost (case-insensitive), to stop third parties from fronting
	// this gateway. The request scheme is not compared.
	AntiReverseProxy bool   `env:"ANTI_REVERSE_PROXY" envDefault:"false"`
	TrustedHost      string `env:"TRUSTED_HOST"`

	// UserAgentMode is "allow" or "deny"; the matching rule lists are
	// lowercase substrings (comma-separated).
	UserAgentMode string   `env:"USER_AGENT_MODE" envDefault:"deny"`
	AllowUA       []string `env:"ALLOW_UA" envSeparator:","`
	DenyUA        []string `env:"DENY_UA" envSeparator:","`

	// RateKBs throttles each playback device to this many kB/s on streamed
	// bytes. 0 disables throttling.
	RateKBs uint64 `env:"RATE_KBS" envDefault:"0"`

	// TranscodeRoot is the spool directory for on-demand HLS sessions.
	TranscodeRoot string `env:"TRANSCODE_ROOT" envDefault:"/tmp/streamgate-hls"`
	// SegmentDuration is the HLS segment length in seconds.
	SegmentDuration uint `env:"SEGMENT_DURATION" envDefault:"6"`
	// HLSIdleEviction is how long an HLS session may go unaccessed before
	// its encoder is killed and its spool removed.
	HLSIdleEviction time.Duration `env:"HLS_IDLE_EVICTION" envDefault:"10m"`

	// CacheTTL / CacheCapacity tune the resolver and token caches.
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"30m"`
	CacheCapacity uint64        `env:"CACHE_CAPACITY" envDefault:"1024"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load parses configuration from environment variables.
// Returns an error if a value cannot be parsed or a constraint is violated.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the constraints the streaming core depends on.
func (c Config) Validate() error {
	switch c.StreamMode {
	case ModeFrontend, ModeBackend, ModeDual:
	default:
		return fmt.Errorf("config: invalid STREAM_MODE %q", c.StreamMode)
	}
	switch c.DefaultProxyMode {
	case ProxyModeProxy, ProxyModeRedirect:
	default:
		return fmt.Errorf("config: invalid PROXY_MODE %q", c.DefaultProxyMode)
	}
	if len(c.EncipherKey) < 6 {
		return fmt.Errorf("config: ENCIPHER_KEY must be at least 6 bytes, got %d", len(c.EncipherKey))
	}
	if len(c.EncipherIV) < 6 {
		return fmt.Errorf("config: ENCIPHER_IV must be at least 6 bytes, got %d", len(c.EncipherIV))
	}
	if !strings.HasPrefix(c.BackendPath, "/") {
		return fmt.Errorf("config: BACKEND_PATH must start with '/', got %q", c.BackendPath)
	}
	if mode := strings.ToLower(c.UserAgentMode); mode != "allow" && mode != "deny" {
		return fmt.Errorf("config: USER_AGENT_MODE must be \"allow\" or \"deny\", got %q", c.UserAgentMode)
	}
	return nil
}

// StreamEndpoint is the absolute backend streaming URL redirect targets
// point at, e.g. "http://localhost:8096/stream".
func (c Config) StreamEndpoint() string {
	return strings.TrimRight(c.BackendURL, "/") + c.BackendPath
}

// IsAllowMode reports whether the user-agent filter runs an allow-list.
func (c Config) IsAllowMode() bool {
	return strings.EqualFold(c.UserAgentMode, "allow")
}
