package safety

import (
	"net/url"
	"regexp"
	"strings"
)

// shorteners are link-shortening and click-tracking hosts that hide the
// real unsubscribe endpoint.
var shorteners = newDomainSet(
	"bit.ly", "bitly.com", "tinyurl.com", "t.co", "goo.gl", "ow.ly",
	"is.gd", "buff.ly", "rebrand.ly", "cutt.ly", "shorturl.at", "rb.gy",
	"t.ly", "tiny.cc", "lnkd.in", "trib.al",
)

var (
	trackingHostLabel = regexp.MustCompile(`(?i)^(click|clicks|track|tracking|trk|redirect|redir|r|links?|email-?link)\.`)
	redirectParam     = regexp.MustCompile(`(?i)[?&](url|u|redirect|redirect_uri|target|dest|destination|goto|next)=https?`)
)

// IsSuspiciousLink reports whether an unsubscribe link goes through a link
// shortener or a tracking redirector. Unparseable links are suspicious.
func IsSuspiciousLink(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if shorteners.Match(host) {
		return true
	}
	if trackingHostLabel.MatchString(host) {
		return true
	}
	return redirectParam.MatchString("?" + u.RawQuery)
}
