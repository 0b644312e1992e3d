package safety

import "strings"

// domainSet matches a domain exactly or by any parent-domain suffix.
// "mail.chase.com" matches an entry "chase.com"; "notchase.com" does not.
type domainSet map[string]struct{}

func newDomainSet(domains ...string) domainSet {
	s := make(domainSet, len(domains))
	for _, d := range domains {
		s[strings.ToLower(d)] = struct{}{}
	}
	return s
}

// Match reports whether domain or one of its parent domains is in the set.
func (s domainSet) Match(domain string) bool {
	_, ok := s.lookup(domain)
	return ok
}

// lookup returns the matching entry, walking from the full domain towards
// the TLD.
func (s domainSet) lookup(domain string) (string, bool) {
	d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	for d != "" {
		if _, ok := s[d]; ok {
			return d, true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return "", false
}

// neverTouch lists domains whose mail is never subject to destructive
// actions: government, banking, payments, health.
var neverTouch = newDomainSet(
	"gov", "mil", "gov.uk", "gc.ca", "gov.au", "europa.eu",
	"irs.gov", "ssa.gov", "hmrc.gov.uk",
	"chase.com", "bankofamerica.com", "wellsfargo.com", "citi.com",
	"capitalone.com", "americanexpress.com", "aexp.com", "usbank.com",
	"discover.com", "schwab.com", "fidelity.com", "vanguard.com",
	"paypal.com", "venmo.com", "stripe.com", "wise.com", "revolut.com",
	"hsbc.com", "barclays.co.uk", "monzo.com",
	"mychart.com", "kp.org", "kaiserpermanente.org", "anthem.com",
	"unitedhealthcare.com", "cigna.com",
)

// caution lists large platforms that send a mix of bulk and account-critical
// mail; acting on the whole domain needs confirmation.
var caution = newDomainSet(
	"amazon.com", "amazon.co.uk", "google.com", "accounts.google.com",
	"microsoft.com", "apple.com", "icloud.com", "linkedin.com",
	"facebookmail.com", "instagram.com", "github.com", "gitlab.com",
	"dropbox.com", "ebay.com", "uber.com", "airbnb.com", "booking.com",
	"netflix.com", "spotify.com", "slack.com", "zoom.us", "atlassian.com",
	"twitter.com", "x.com", "shopify.com",
)

// freelyActionable lists bulk senders and marketing platforms.
var freelyActionable = newDomainSet(
	"mailchimp.com", "mcsv.net", "mcdlv.net", "list-manage.com",
	"sendgrid.net", "constantcontact.com", "mailgun.org", "klaviyomail.com",
	"substack.com", "beehiiv.com", "convertkit.com", "mailerlite.com",
	"medium.com", "quora.com", "pinterest.com", "groupon.com", "wish.com",
	"temu.com", "shein.com", "aliexpress.com", "nextdoor.com",
)

// freeMail lists consumer mailbox providers used by individuals.
var freeMail = newDomainSet(
	"gmail.com", "googlemail.com", "yahoo.com", "yahoo.co.uk", "ymail.com",
	"outlook.com", "hotmail.com", "live.com", "msn.com", "icloud.com",
	"me.com", "mac.com", "aol.com", "protonmail.com", "proton.me", "pm.me",
	"gmx.com", "gmx.de", "gmx.net", "web.de", "mail.com", "yandex.com",
	"yandex.ru", "zoho.com", "fastmail.com", "hey.com", "tutanota.com",
)

// IsFreeMailDomain reports whether domain belongs to a consumer mailbox
// provider.
func IsFreeMailDomain(domain string) bool {
	return freeMail.Match(domain)
}
