package setup

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nhle/inbox-sweep/internal/model"
)

func TestApplyDefaultsSMTPHost(t *testing.T) {
	a := &Account{
		Username: " me@home.example ",
		Password: "secret",
		IMAPHost: "imap.home.example",
		IMAPPort: "993",
		SMTPPort: "465",
		TLS:      true,
	}
	var got model.AccountConfig
	a.Apply(&got)

	want := model.AccountConfig{
		Username: "me@home.example",
		IMAPHost: "imap.home.example",
		IMAPPort: "993",
		SMTPHost: "imap.home.example",
		SMTPPort: "465",
		TLS:      true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
}

func TestFromConfigRoundTrip(t *testing.T) {
	c := model.DefaultAppConfig().Account
	c.Username = "me@home.example"
	c.IMAPHost = "imap.home.example"
	c.SMTPHost = "smtp.home.example"

	got := c
	FromConfig(c).Apply(&got)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string) error
		in      string
		wantErr bool
	}{
		{"port ok", validatePort, "993", false},
		{"port empty", validatePort, "", true},
		{"port text", validatePort, "imap", true},
		{"port range", validatePort, "70000", true},
		{"address ok", validateAddress, "me@home.example", false},
		{"address no domain", validateAddress, "me@", true},
		{"address empty", validateAddress, "  ", true},
		{"required", validateRequired("Password"), "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn(tc.in)
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
