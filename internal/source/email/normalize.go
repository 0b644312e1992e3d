package email

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/inbox-sweep/internal/classify"
	"github.com/nhle/inbox-sweep/internal/model"
)

// oneClickValue is the List-Unsubscribe-Post value defined by RFC 8058.
const oneClickValue = "list-unsubscribe=one-click"

// categoryKeywords maps keyword names (lower-cased, prefix stripped) that
// servers use for bulk tabs to categories.
var categoryKeywords = map[string]model.Category{
	"promotions":          model.CategoryPromotions,
	"category_promotions": model.CategoryPromotions,
	"social":              model.CategorySocial,
	"category_social":     model.CategorySocial,
	"updates":             model.CategoryUpdates,
	"category_updates":    model.CategoryUpdates,
	"forums":              model.CategoryForums,
	"category_forums":     model.CategoryForums,
	"primary":             model.CategoryPrimary,
	"category_personal":   model.CategoryPrimary,
}

// systemFlags are not carried over as labels.
var systemFlags = map[imap.Flag]bool{
	imap.FlagSeen:     true,
	imap.FlagAnswered: true,
	imap.FlagFlagged:  true,
	imap.FlagDeleted:  true,
	imap.FlagDraft:    true,
	"\\Recent":        true,
}

// normalize turns a fetched header section into a NormalizedItem. The item
// ID is derived from the Message-ID so it survives moves between mailboxes.
func normalize(raw rawMessage) (model.NormalizedItem, error) {
	h, err := parseHeader(raw.Header)
	if err != nil {
		return model.NormalizedItem{}, fmt.Errorf("parsing header of UID %d: %w", raw.UID, err)
	}

	providerID := formatUID(raw.UID)
	item := model.NormalizedItem{
		ID:         itemID(h, providerID),
		ProviderID: providerID,
		ReceivedAt: raw.InternalDate,
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		item.FromAddress = strings.ToLower(strings.TrimSpace(from[0].Address))
		item.FromName = strings.TrimSpace(from[0].Name)
	} else {
		// Undecodable From lines still carry a usable address often enough.
		item.FromAddress = strings.ToLower(strings.Trim(strings.TrimSpace(h.Get("From")), "<>"))
	}
	item.FromDomain = model.DomainOf(item.FromAddress)

	if subject, err := h.Subject(); err == nil {
		item.Subject = subject
	} else {
		item.Subject = h.Get("Subject")
	}

	if item.ReceivedAt.IsZero() {
		if date, err := h.Date(); err == nil {
			item.ReceivedAt = date
		}
	}
	item.ReceivedAt = receivedOrNow(item.ReceivedAt).UTC()

	item.Unsubscribe = ParseListUnsubscribe(h.Get("List-Unsubscribe"), h.Get("List-Unsubscribe-Post"))
	item.Category, item.Labels = categorize(raw.Flags)
	item.Headers = detectionHeaders(h)

	return item, nil
}

// parseHeader reads a raw header block with go-message.
func parseHeader(raw []byte) (mail.Header, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return mail.Header{}, fmt.Errorf("empty header section")
	}
	// ReadHeader needs the blank line that ends the block.
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) && !bytes.HasSuffix(raw, []byte("\n\n")) {
		raw = append(append([]byte{}, raw...), "\r\n\r\n"...)
	}
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return mail.Header{}, err
	}
	return mail.Header{Header: message.Header{Header: th}}, nil
}

// idUnsafeChars matches characters that are not safe for use in an item ID.
var idUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9@._-]`)

// itemID prefers the Message-ID and falls back to the UID.
func itemID(h mail.Header, providerID string) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return "msg-" + idUnsafeChars.ReplaceAllString(id, "_")
	}
	return "uid-" + providerID
}

// ParseListUnsubscribe extracts the first http(s) link and the first mailto
// target from a List-Unsubscribe value. The header is a comma separated
// list of angle-bracketed URIs.
func ParseListUnsubscribe(header, post string) model.Unsubscribe {
	var u model.Unsubscribe
	for _, part := range strings.Split(header, ",") {
		p := strings.TrimSpace(part)
		p = strings.TrimSpace(strings.Trim(p, "<>"))
		lower := strings.ToLower(p)
		switch {
		case u.HTTPURL == "" && (strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")):
			u.HTTPURL = p
		case u.Mailto == "" && strings.HasPrefix(lower, "mailto:"):
			u.Mailto = p
		}
	}
	u.OneClick = u.HTTPURL != "" &&
		strings.Contains(strings.ToLower(strings.ReplaceAll(post, " ", "")), oneClickValue)
	return u
}

// categorize splits IMAP flags into a bulk category and user labels.
func categorize(flags []string) (model.Category, []string) {
	category := model.CategoryNone
	var labels []string
	for _, f := range flags {
		if systemFlags[imap.Flag(f)] {
			continue
		}
		name := strings.ToLower(normalizeFlag(f))
		if c, ok := categoryKeywords[name]; ok {
			if category == model.CategoryNone {
				category = c
			}
			continue
		}
		labels = append(labels, normalizeFlag(f))
	}
	return category, labels
}

// detectionHeaders keeps the headers the scorer reads, keyed lower-case.
func detectionHeaders(h mail.Header) map[string]string {
	out := make(map[string]string)
	for _, name := range classify.DetectionHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// receivedOrNow is used when neither the server nor the Date header
// provide a timestamp.
func receivedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
