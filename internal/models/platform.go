package models

import (
	"fmt"
	"sort"
	"strings"
)

// Platform identifies a supported exchange. The string value is the stable
// on-disk representation and matches the backend's platform enumeration.
type Platform string

const (
	PlatformBinance Platform = "BINANCE"
	PlatformOKX     Platform = "OKX"
	PlatformBitget  Platform = "BITGET"
	PlatformBybit   Platform = "BYBIT"
	PlatformGateIO  Platform = "GATEIO"
)

// AllPlatforms lists every supported platform in display order
var AllPlatforms = []Platform{
	PlatformBinance,
	PlatformOKX,
	PlatformBitget,
	PlatformBybit,
	PlatformGateIO,
}

// platformAliases maps legacy spellings (display names, lowercase keys written by
// older releases) to the stable representation.
var platformAliases = map[string]Platform{
	"binance": PlatformBinance,
	"okx":     PlatformOKX,
	"bitget":  PlatformBitget,
	"bybit":   PlatformBybit,
	"gateio":  PlatformGateIO,
	"gate.io": PlatformGateIO,
	"gate":    PlatformGateIO,
}

// ParsePlatform resolves a platform from its stable form or any legacy spelling
func ParsePlatform(s string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if p, ok := platformAliases[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// IsValid reports whether p is one of the supported platforms
func (p Platform) IsValid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// Key returns the lowercase form used for derived-token storage keys and
// message payloads (e.g. "okx" for okx_jwt).
func (p Platform) Key() string {
	return strings.ToLower(string(p))
}

func (p Platform) String() string {
	return string(p)
}

// PlatformDescriptor is the capture configuration for one platform.
// Everything the capture agent and classifier know about a platform lives here
// so new mirror domains only require a data change.
type PlatformDescriptor struct {
	Platform    Platform `toml:"-" json:"platform"`
	DisplayName string   `toml:"display_name" json:"display_name"`

	// Domains are matched as exact host or dot-suffix (case-insensitive)
	Domains []string `toml:"domains" json:"domains"`

	// RequestPatterns restrict which outbound requests trigger a capture.
	// A trailing '*' matches any suffix.
	RequestPatterns []string `toml:"request_patterns" json:"request_patterns"`

	// TokenCookie is the cookie holding the platform's bearer token (empty = none)
	TokenCookie string `toml:"token_cookie" json:"token_cookie"`

	// LookupURLs are tried with a targeted cookie lookup when bulk enumeration
	// does not expose TokenCookie. Best effort, no completeness guarantee.
	LookupURLs []string `toml:"lookup_urls" json:"lookup_urls"`

	// ComposeWithCSRF makes the synced credential "csrfToken=<csrf>&p20t=<token>"
	ComposeWithCSRF bool `toml:"compose_with_csrf" json:"compose_with_csrf"`
}

// DefaultPlatformDescriptors returns the built-in capture configuration
func DefaultPlatformDescriptors() map[Platform]PlatformDescriptor {
	return map[Platform]PlatformDescriptor{
		PlatformBinance: {
			Platform:        PlatformBinance,
			DisplayName:     "Binance",
			Domains:         []string{"binance.com", "suitechsui.online"},
			RequestPatterns: []string{"https://www.binance.com/*", "https://www.suitechsui.online/*"},
			TokenCookie:     "p20t",
			ComposeWithCSRF: true,
		},
		PlatformOKX: {
			Platform:        PlatformOKX,
			DisplayName:     "OKX",
			Domains:         []string{"okx.com"},
			RequestPatterns: []string{"https://www.okx.com/*"},
			TokenCookie:     "token",
		},
		PlatformBitget: {
			Platform:        PlatformBitget,
			DisplayName:     "Bitget",
			Domains:         []string{"bitget.com"},
			RequestPatterns: []string{"https://www.bitget.com/*"},
			TokenCookie:     "bt_newsessionid",
		},
		PlatformBybit: {
			Platform:        PlatformBybit,
			DisplayName:     "Bybit",
			Domains:         []string{"bybit.com", "bybitglobal.com"},
			RequestPatterns: []string{"https://www.bybit.com/*", "https://api2.bybit.com/*"},
			TokenCookie:     "secure-token",
			// Deployment defaults, overridable under [platforms.bybit]
			LookupURLs: []string{
				"https://www.bybit.com/",
				"https://api2.bybit.com/",
				"https://www.bybitglobal.com/",
			},
		},
		PlatformGateIO: {
			Platform:        PlatformGateIO,
			DisplayName:     "Gate.io",
			Domains:         []string{"gate.io", "gate.com"},
			RequestPatterns: []string{"https://www.gate.io/*", "https://www.gate.com/*"},
			TokenCookie:     "pver", // deployment default, overridable under [platforms.gateio]
		},
	}
}

// SortedPlatforms returns the keys of m in AllPlatforms order, then any others alphabetically
func SortedPlatforms[V any](m map[Platform]V) []Platform {
	out := make([]Platform, 0, len(m))
	for _, p := range AllPlatforms {
		if _, ok := m[p]; ok {
			out = append(out, p)
		}
	}
	var extra []Platform
	for p := range m {
		if !p.IsValid() {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
