package email

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"
	"github.com/google/go-cmp/cmp"

	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/source"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

func TestNormalizeNewsletter(t *testing.T) {
	received := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	raw := rawMessage{
		UID: 4711,
		Header: crlf(
			`From: "SHOPCO Deals" <News@Promo.Example.com>`,
			`To: me@home.example`,
			`Subject: =?UTF-8?Q?50=25_off_everything?=`,
			`Date: Mon, 04 May 2026 09:00:00 +0000`,
			`Message-ID: <abc.123@promo.example.com>`,
			`Precedence: bulk`,
			`List-Id: <deals.promo.example.com>`,
			`X-Mailer: MailChimp Mailer`,
			`Return-Path: <bounce-42@mcsv.net>`,
			`List-Unsubscribe: <mailto:leave@promo.example.com?subject=unsub>, <https://promo.example.com/u/42>`,
			`List-Unsubscribe-Post: List-Unsubscribe=One-Click`,
			`X-Spam-Score: 0.1`,
		),
		Flags:        []string{`\Seen`, `$Promotions`, `Newsletters`},
		InternalDate: received,
	}

	got, err := normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := model.NormalizedItem{
		ID:          "msg-abc.123@promo.example.com",
		ProviderID:  "4711",
		FromAddress: "news@promo.example.com",
		FromName:    "SHOPCO Deals",
		FromDomain:  "promo.example.com",
		Subject:     "50% off everything",
		ReceivedAt:  received,
		Unsubscribe: model.Unsubscribe{
			HTTPURL:  "https://promo.example.com/u/42",
			Mailto:   "mailto:leave@promo.example.com?subject=unsub",
			OneClick: true,
		},
		Category: model.CategoryPromotions,
		Labels:   []string{"Newsletters"},
		Headers: map[string]string{
			"precedence":  "bulk",
			"x-mailer":    "MailChimp Mailer",
			"return-path": "<bounce-42@mcsv.net>",
			"list-id":     "<deals.promo.example.com>",
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("normalize mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got.Headers["x-spam-score"]; ok {
		t.Error("non-detection header kept")
	}
}

func TestNormalizeFallbacks(t *testing.T) {
	raw := rawMessage{
		UID: 9,
		Header: crlf(
			`From: alerts@bank.example`,
			`Subject: Statement ready`,
			`Date: Mon, 04 May 2026 09:00:00 +0200`,
		),
	}

	got, err := normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.ID != "uid-9" {
		t.Errorf("ID = %q, want uid-9", got.ID)
	}
	if want := time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC); !got.ReceivedAt.Equal(want) {
		t.Errorf("ReceivedAt = %v, want %v from Date header", got.ReceivedAt, want)
	}
	if got.FromDomain != "bank.example" {
		t.Errorf("FromDomain = %q", got.FromDomain)
	}
	if got.Headers != nil {
		t.Errorf("Headers = %v, want nil", got.Headers)
	}
	if got.HasUnsubscribe() {
		t.Error("unexpected unsubscribe option")
	}
}

func TestNormalizeEmptyHeader(t *testing.T) {
	if _, err := normalize(rawMessage{UID: 1}); err == nil {
		t.Fatal("expected error for empty header section")
	}
}

func TestParseListUnsubscribe(t *testing.T) {
	tests := []struct {
		name   string
		header string
		post   string
		want   model.Unsubscribe
	}{
		{
			name:   "http only",
			header: "<https://x.example/u?id=1>",
			want:   model.Unsubscribe{HTTPURL: "https://x.example/u?id=1"},
		},
		{
			name:   "first of each kind wins",
			header: "<mailto:a@x.example>, <https://x.example/1>, <https://x.example/2>, <mailto:b@x.example>",
			want:   model.Unsubscribe{HTTPURL: "https://x.example/1", Mailto: "mailto:a@x.example"},
		},
		{
			name:   "one click needs an http link",
			header: "<mailto:a@x.example>",
			post:   "List-Unsubscribe=One-Click",
			want:   model.Unsubscribe{Mailto: "mailto:a@x.example"},
		},
		{
			name:   "one click case and spacing",
			header: "<HTTPS://X.example/u>",
			post:   "list-unsubscribe = one-click",
			want:   model.Unsubscribe{HTTPURL: "HTTPS://X.example/u", OneClick: true},
		},
		{
			name:   "garbage",
			header: "not a uri, <ftp://x.example>",
			want:   model.Unsubscribe{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseListUnsubscribe(tc.header, tc.post)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	cat, labels := categorize([]string{`\Flagged`, "CATEGORY_SOCIAL", "$Updates", "Work"})
	if cat != model.CategorySocial {
		t.Errorf("category = %q, want social", cat)
	}
	if diff := cmp.Diff([]string{"Work"}, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestUIDSetToSlice(t *testing.T) {
	set := imap.UIDSet{{Start: 3, Stop: 5}, {Start: 9, Stop: 9}}
	want := []imap.UID{3, 4, 5, 9}
	if diff := cmp.Diff(want, uidSetToSlice(set)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchFilter(t *testing.T) {
	filters := []model.BlockFilter{
		{ID: "f1", Scope: "sender", Match: "a@shop.example"},
		{ID: "f2", Scope: "domain", Match: "spam.example"},
	}
	tests := []struct {
		addr, domain string
		want         string
	}{
		{"a@shop.example", "shop.example", "f1"},
		{"b@shop.example", "shop.example", ""},
		{"x@mail.spam.example", "mail.spam.example", "f2"},
		{"x@notspam.example", "notspam.example", ""},
	}
	for _, tc := range tests {
		f, ok := matchFilter(filters, model.NormalizedItem{FromAddress: tc.addr, FromDomain: tc.domain})
		got := ""
		if ok {
			got = f.ID
		}
		if got != tc.want {
			t.Errorf("matchFilter(%s) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}

func TestParseUID(t *testing.T) {
	if uid, err := parseUID("42"); err != nil || uid != 42 {
		t.Errorf("parseUID(42) = %d, %v", uid, err)
	}
	for _, bad := range []string{"", "0", "-1", "abc", "99999999999"} {
		if _, err := parseUID(bad); err == nil {
			t.Errorf("parseUID(%q) succeeded", bad)
		}
	}
}

func TestComposeMessage(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	raw, err := composeMessage("me@home.example", source.OutgoingMail{
		To:      "leave@list.example",
		Subject: "unsubscribe",
		Body:    "please remove me",
	}, now)
	if err != nil {
		t.Fatalf("composeMessage: %v", err)
	}

	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("reading composed message: %v", err)
	}
	defer r.Close()

	to, err := r.Header.AddressList("To")
	if err != nil || len(to) != 1 || to[0].Address != "leave@list.example" {
		t.Errorf("To = %v, %v", to, err)
	}
	if subject, _ := r.Header.Subject(); subject != "unsubscribe" {
		t.Errorf("Subject = %q", subject)
	}
	if id, _ := r.Header.MessageID(); id == "" {
		t.Error("missing Message-ID")
	}
	if !bytes.Contains(raw, []byte("please remove me")) {
		t.Error("body missing")
	}
}
