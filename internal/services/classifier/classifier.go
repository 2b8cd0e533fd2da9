// Package classifier maps hostnames and URLs to supported platforms.
package classifier

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ternarybob/credsync/internal/models"
)

type domainRule struct {
	domain   string
	platform models.Platform
}

// Classifier is a pure, data-driven domain matcher. It is safe for concurrent use.
type Classifier struct {
	rules    []domainRule
	patterns map[models.Platform][]string
}

// New builds a classifier from platform descriptors
func New(descriptors map[models.Platform]models.PlatformDescriptor) *Classifier {
	c := &Classifier{
		patterns: make(map[models.Platform][]string, len(descriptors)),
	}

	for _, platform := range models.SortedPlatforms(descriptors) {
		d := descriptors[platform]
		for _, domain := range d.Domains {
			domain = normalizeHost(domain)
			if domain == "" {
				continue
			}
			c.rules = append(c.rules, domainRule{domain: domain, platform: platform})
		}
		for _, pattern := range d.RequestPatterns {
			if p := strings.ToLower(strings.TrimSpace(pattern)); p != "" {
				c.patterns[platform] = append(c.patterns[platform], p)
			}
		}
	}

	// Longest domain first so a mirror registered under another platform's
	// parent domain still resolves to the more specific platform.
	sort.SliceStable(c.rules, func(i, j int) bool {
		return len(c.rules[i].domain) > len(c.rules[j].domain)
	})

	return c
}

// NewDefault builds a classifier from the built-in descriptors
func NewDefault() *Classifier {
	return New(models.DefaultPlatformDescriptors())
}

// Classify returns the platform for hostname. The input may also be a full
// URL or carry a port. Matching is exact host or dot-suffix, case-insensitive.
func (c *Classifier) Classify(hostname string) (models.Platform, bool) {
	host := normalizeHost(hostname)
	if host == "" {
		return "", false
	}

	for _, rule := range c.rules {
		if host == rule.domain || strings.HasSuffix(host, "."+rule.domain) {
			return rule.platform, true
		}
	}
	return "", false
}

// ClassifyURL classifies the host of rawURL
func (c *Classifier) ClassifyURL(rawURL string) (models.Platform, bool) {
	return c.Classify(Hostname(rawURL))
}

// MatchesRequestPattern returns the platform whose request patterns match
// rawURL. Patterns ending in '*' match any suffix; others must match exactly.
func (c *Classifier) MatchesRequestPattern(rawURL string) (models.Platform, bool) {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	if u == "" {
		return "", false
	}

	for _, platform := range models.SortedPlatforms(c.patterns) {
		for _, pattern := range c.patterns[platform] {
			if matchPattern(pattern, u) {
				return platform, true
			}
		}
	}
	return "", false
}

// Domains returns the configured domains of platform
func (c *Classifier) Domains(platform models.Platform) []string {
	var out []string
	for _, rule := range c.rules {
		if rule.platform == platform {
			out = append(out, rule.domain)
		}
	}
	return out
}

func matchPattern(pattern, u string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(u, prefix)
	}
	return pattern == u
}

// Hostname extracts the lower-cased host from a URL or bare hostname.
// Returns "" when nothing usable is present.
func Hostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	return normalizeHost(raw)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.Contains(host, "://") {
		return Hostname(host)
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.Trim(host, ".")
}
