// Package urlutil provides URL normalization and comparison helpers used for
// product deduplication and per-domain rate limiting.
package urlutil

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// trackingParams are query parameters stripped during normalization.
// Keys are lowercase; "utm_" style prefixes are handled separately.
var trackingParams = map[string]struct{}{
	// Google Analytics
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "utm_id": {}, "utm_source_platform": {},
	"utm_creative_format": {}, "utm_marketing_tactic": {},
	// Facebook
	"fbclid": {}, "fb_action_ids": {}, "fb_action_types": {}, "fb_ref": {}, "fb_source": {},
	// Click IDs
	"gclid": {}, "dclid": {}, "msclkid": {},
	// Mailchimp / GA linker
	"mc_eid": {}, "mc_cid": {}, "_ga": {}, "_gl": {},
	// Amazon
	"ref": {}, "ref_": {}, "pf_rd_p": {}, "pf_rd_r": {}, "pf_rd_s": {},
	"pf_rd_t": {}, "pf_rd_i": {}, "qid": {},
	// Social
	"share": {}, "sharesource": {}, "igshid": {}, "mibextid": {},
	// Email tracking
	"mkt_tok": {}, "trk": {}, "trkid": {},
	// Session IDs
	"sessionid": {}, "sid": {}, "phpsessid": {}, "jsessionid": {},
	// HubSpot
	"_hsenc": {}, "_hsmi": {},
}

// IsTrackingParam reports whether a query parameter name is on the removal list.
func IsTrackingParam(name string) bool {
	_, ok := trackingParams[strings.ToLower(name)]
	return ok
}

// Normalize produces a canonical form of a URL for storage and comparison:
// lowercase scheme and host, default ports stripped, tracking parameters
// removed, remaining query keys sorted, fragment dropped unless keepFragment.
// On parse failure the input is returned unchanged.
func Normalize(rawURL string, keepFragment bool) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		log.Warn().Str("url", rawURL).Msg("URL normalization failed, returning original")
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = stripDefaultPort(u.Scheme, u.Host)

	if u.RawQuery != "" {
		u.RawQuery = cleanQuery(u.RawQuery)
	}
	if !keepFragment {
		u.Fragment = ""
	}

	return u.String()
}

// CleanForComparison is a more aggressive normalization used for
// deduplication: all query parameters and the fragment are dropped and the
// trailing slash is trimmed.
func CleanForComparison(rawURL string) string {
	normalized := Normalize(rawURL, false)

	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return normalized
	}

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

// cleanQuery removes tracking parameters and sorts the remaining keys.
func cleanQuery(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if IsTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// ExtractDomain returns the lowercased host of a URL, or "" if it cannot be
// parsed.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// twoLevelSuffixes are second-level labels that combine with the TLD to form
// a public suffix (co.uk, com.br, gov.au, ...).
var twoLevelSuffixes = map[string]struct{}{
	"co": {}, "com": {}, "gov": {}, "org": {}, "ac": {},
}

// ExtractBaseDomain returns the registrable domain of a URL, without
// subdomains. Two-level public suffixes keep three labels.
func ExtractBaseDomain(rawURL string) string {
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return ""
	}

	parts := strings.Split(domain, ".")
	if len(parts) >= 3 {
		if _, ok := twoLevelSuffixes[parts[len(parts)-2]]; ok {
			return strings.Join(parts[len(parts)-3:], ".")
		}
	}
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return domain
}

// IsSameDomain reports whether two URLs share a base domain.
func IsSameDomain(url1, url2 string) bool {
	d1 := ExtractBaseDomain(url1)
	d2 := ExtractBaseDomain(url2)
	return d1 != "" && d2 != "" && d1 == d2
}

// IsValid reports whether a URL is absolute with an http(s) scheme.
func IsValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// EnsureScheme prefixes https:// when the URL carries no scheme.
func EnsureScheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return "https://" + rawURL
}
