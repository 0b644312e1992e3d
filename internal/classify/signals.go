package classify

import (
	"net/mail"
	"strings"

	"github.com/nhle/inbox-sweep/internal/model"
)

// Signal names recorded in ClassificationResult.Signals.
const (
	SignalTransactional = "transactional_override"
	SignalPersonal      = "personal_override"
	SignalUnsubscribe   = "unsubscribe"
	SignalCategory      = "category"
	SignalDomainMatch   = "domain_match"
	SignalHeaders       = "headers"
	SignalReputation    = "reputation"
	SignalFrequency     = "frequency"
	SignalHTML          = "html"
)

// Weights of the scoring sum. The html slot is reserved and always scores 0.
const (
	weightUnsubscribe = 0.35
	weightReputation  = 0.25
	weightCategory    = 0.20
	weightFrequency   = 0.10
	weightHeaders     = 0.05
	weightHTML        = 0.05
)

// bulkPlatforms lists the sending domains of mass-mail platforms. A sender
// domain matches on an exact entry or any parent domain.
var bulkPlatforms = func() map[string]struct{} {
	domains := []string{
		"mailchimp.com", "mcsv.net", "mcdlv.net", "list-manage.com",
		"rsgsv.net", "sendgrid.net", "constantcontact.com", "mailgun.org",
		"mailgun.net", "amazonses.com", "sparkpostmail.com",
		"mandrillapp.com", "klaviyomail.com", "hubspotemail.net",
		"substack.com", "beehiiv.com", "convertkit.com",
		"campaign-archive.com", "exacttarget.com", "sailthru.com",
		"customeriomail.com", "mailerlite.com", "sendinblue.com",
		"brevo.com", "createsend.com", "cmail19.com", "cmail20.com",
		"emarsys.net", "responsys.net", "mktomail.com",
	}
	m := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		m[d] = struct{}{}
	}
	return m
}()

func isBulkPlatform(domain string) bool {
	d := strings.ToLower(strings.TrimSuffix(domain, "."))
	for d != "" {
		if _, ok := bulkPlatforms[d]; ok {
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			return false
		}
		d = d[dot+1:]
	}
	return false
}

// headerCheck scores one class of detection header.
type headerCheck struct {
	weight float64
	match  func(item model.NormalizedItem) bool
}

// listHeaders mark mailing-list or campaign traffic.
var listHeaders = []string{
	"list-id", "list-post", "x-campaign", "x-campaign-id", "x-campaignid",
	"x-newsletter", "x-mailing-list", "x-list", "x-bulk-mail",
}

// platformHeaders are signature headers added by specific bulk platforms.
var platformHeaders = []string{
	"x-mc-user", "x-mailchimp-campaign", "x-sg-eid", "x-sg-id",
	"x-mailgun-sid", "x-mailgun-tag", "x-ses-outgoing", "feedback-id",
	"x-sfmc-stack", "x-mkto-trk", "x-hs-cid", "x-klaviyo-message-id",
	"x-csa-complaints", "x-sendinblue-id",
}

// DetectionHeaders lists every header name the scorer reads. The
// normalization boundary keeps exactly these in NormalizedItem.Headers.
var DetectionHeaders = func() []string {
	names := []string{"precedence", "x-mailer", "return-path", "auto-submitted"}
	names = append(names, listHeaders...)
	return append(names, platformHeaders...)
}()

var headerChecks = []headerCheck{
	{weight: 0.8, match: func(it model.NormalizedItem) bool {
		switch strings.ToLower(strings.TrimSpace(it.Header("precedence"))) {
		case "bulk", "list", "junk":
			return true
		}
		return false
	}},
	{weight: 0.7, match: func(it model.NormalizedItem) bool {
		return it.HasHeader("x-mailer")
	}},
	{weight: 0.85, match: func(it model.NormalizedItem) bool {
		return anyHeader(it, listHeaders)
	}},
	{weight: 0.9, match: func(it model.NormalizedItem) bool {
		return anyHeader(it, platformHeaders)
	}},
}

func anyHeader(it model.NormalizedItem, names []string) bool {
	for _, n := range names {
		if it.HasHeader(n) {
			return true
		}
	}
	return false
}

func unsubscribeScore(it model.NormalizedItem) float64 {
	if it.HasUnsubscribe() {
		return 1
	}
	return 0
}

func categoryScore(it model.NormalizedItem) float64 {
	switch it.Category {
	case model.CategoryPromotions, model.CategorySocial:
		return 0.95
	case model.CategoryUpdates:
		return 0.5
	default:
		return 0
	}
}

func domainScore(it model.NormalizedItem) float64 {
	if isBulkPlatform(it.FromDomain) {
		return 0.9
	}
	if d := returnPathDomain(it.Header("return-path")); d != "" && isBulkPlatform(d) {
		return 0.85
	}
	return 0
}

// returnPathDomain extracts the domain of a Return-Path value. Malformed
// values yield "".
func returnPathDomain(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "<>" {
		return ""
	}
	if addr, err := mail.ParseAddress(v); err == nil {
		return model.DomainOf(addr.Address)
	}
	return model.DomainOf(strings.Trim(v, "<>"))
}

func headerScore(it model.NormalizedItem) float64 {
	best := 0.0
	for _, c := range headerChecks {
		if c.weight > best && c.match(it) {
			best = c.weight
		}
	}
	return best
}
