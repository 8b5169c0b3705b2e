package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// RecordKey is the stable key of a record across runs: the detail link when
// there is one, else the identifier, scoped to the site.
func RecordKey(siteID, detailLink, identifier string) string {
	natural := NormalizeLink(detailLink)
	if natural == "" {
		natural = "name:" + NormalizeName(identifier)
	}
	hash := sha256.Sum256([]byte(siteID + "|" + natural))
	return hex.EncodeToString(hash[:16])
}

// NormalizeLink drops the fragment, query and trailing slash and lower-cases
// the scheme and host, so that trivially different links compare equal.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(link, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = nonAlnumRegex.ReplaceAllString(name, " ")
	name = multiSpaceRegex.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
