package models

import (
	"net/http"
	"strings"
	"time"
)

// Cookie is a browser cookie as reported by the host capture surface
type Cookie struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"` // seconds since epoch, absent for session cookies
	Secure         bool     `json:"secure,omitempty"`
	HTTPOnly       bool     `json:"httpOnly,omitempty"`
	SameSite       string   `json:"sameSite,omitempty"`
}

// Expires returns the expiration time, zero for session cookies
func (c *Cookie) Expires() time.Time {
	if c.ExpirationDate == nil || *c.ExpirationDate <= 0 {
		return time.Time{}
	}
	sec := int64(*c.ExpirationDate)
	return time.Unix(sec, 0)
}

// MatchesDomain reports whether the cookie belongs to domain or one of its
// subdomains. Parent-domain cookies (".example.com" for "www.example.com") do
// not match: enumeration is for the exact domain, never a superset.
func (c *Cookie) MatchesDomain(domain string) bool {
	cd := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	if cd == "" || d == "" {
		return false
	}
	return cd == d || strings.HasSuffix(cd, "."+d)
}

// SentTo reports whether the cookie would be sent to host (standard domain-match)
func (c *Cookie) SentTo(host string) bool {
	cd := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	h := strings.ToLower(host)
	if cd == "" || h == "" {
		return false
	}
	return h == cd || strings.HasSuffix(h, "."+cd)
}

// ToHTTPCookie converts the captured cookie to a net/http cookie
func (c *Cookie) ToHTTPCookie() *http.Cookie {
	cookie := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires(),
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}

	switch strings.ToLower(c.SameSite) {
	case "strict":
		cookie.SameSite = http.SameSiteStrictMode
	case "lax":
		cookie.SameSite = http.SameSiteLaxMode
	case "none", "no_restriction":
		cookie.SameSite = http.SameSiteNoneMode
	default:
		cookie.SameSite = http.SameSiteDefaultMode
	}

	return cookie
}

// CookieFromHTTP converts a net/http cookie into the captured representation
func CookieFromHTTP(hc *http.Cookie) Cookie {
	c := Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   hc.Domain,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HTTPOnly: hc.HttpOnly,
	}
	if !hc.Expires.IsZero() {
		exp := float64(hc.Expires.Unix())
		c.ExpirationDate = &exp
	}
	return c
}

// FindCookie returns the first cookie named name, or nil
func FindCookie(cookies []Cookie, name string) *Cookie {
	for i := range cookies {
		if cookies[i].Name == name {
			return &cookies[i]
		}
	}
	return nil
}

// CapturedCredential is everything captured for one domain
type CapturedCredential struct {
	Domain  string   `json:"domain"`
	Cookies []Cookie `json:"cookies"`
	Token   string   `json:"token,omitempty"`
}

// RequestObservation is an outbound request seen by the host
type RequestObservation struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	TargetID string            `json:"target_id,omitempty"`
}

// Header returns the value of a header, matching the name case-insensitively
func (r *RequestObservation) Header(name string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// TokenSource describes how a derived token was obtained
type TokenSource string

const (
	TokenSourceNone   TokenSource = ""
	TokenSourceBulk   TokenSource = "bulk"
	TokenSourceLookup TokenSource = "lookup"
)

// CaptureReport summarises one capture cycle
type CaptureReport struct {
	Domain        string      `json:"domain"`
	Platform      Platform    `json:"platform,omitempty"`
	CookieCount   int         `json:"cookie_count"`
	TokenCaptured bool        `json:"token_captured"`
	TokenSource   TokenSource `json:"token_source,omitempty"`
	CapturedAt    time.Time   `json:"captured_at"`
}

// TokenInfo is display metadata decoded from a captured token without verification
type TokenInfo struct {
	Platform  Platform   `json:"platform"`
	IsJWT     bool       `json:"is_jwt"`
	Subject   string     `json:"subject,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
	Preview   string     `json:"preview"`
}

// Obfuscate keeps the first 3 and last 4 characters of s
func Obfuscate(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 7 {
		return string(r[:1]) + "****"
	}
	return string(r[:3]) + "****" + string(r[len(r)-4:])
}
