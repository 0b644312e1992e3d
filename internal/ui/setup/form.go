// Package setup asks for the mailbox connection on first run.
package setup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/inbox-sweep/internal/model"
)

// Account holds the values entered in the setup form.
type Account struct {
	Username string
	Password string
	IMAPHost string
	IMAPPort string
	SMTPHost string
	SMTPPort string
	TLS      bool
}

// FromConfig prefills the form from an existing account section.
func FromConfig(c model.AccountConfig) *Account {
	return &Account{
		Username: c.Username,
		IMAPHost: c.IMAPHost,
		IMAPPort: c.IMAPPort,
		SMTPHost: c.SMTPHost,
		SMTPPort: c.SMTPPort,
		TLS:      c.TLS,
	}
}

// Apply copies the entered values into cfg. The password is not part of
// the config.
func (a *Account) Apply(c *model.AccountConfig) {
	c.Username = strings.TrimSpace(a.Username)
	c.IMAPHost = strings.TrimSpace(a.IMAPHost)
	c.IMAPPort = strings.TrimSpace(a.IMAPPort)
	c.SMTPHost = strings.TrimSpace(a.SMTPHost)
	c.SMTPPort = strings.TrimSpace(a.SMTPPort)
	c.TLS = a.TLS
	if c.SMTPHost == "" {
		c.SMTPHost = c.IMAPHost
	}
}

// Form builds the huh form writing into a.
func (a *Account) Form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email address").
				Description("Login for IMAP and SMTP").
				Placeholder("user@example.com").
				Value(&a.Username).
				Validate(validateAddress),
			huh.NewInput().
				Title("Password").
				Description("Account password or app password; stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&a.Password).
				Validate(validateRequired("Password")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&a.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&a.IMAPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("SMTP Host").
				Description("Used for mailto unsubscribe; defaults to the IMAP host").
				Placeholder("smtp.example.com").
				Value(&a.SMTPHost),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder("465").
				Value(&a.SMTPPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS; No uses STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&a.TLS),
		),
	)
}

// Run shows the form on the terminal and blocks until it is submitted.
func (a *Account) Run() error {
	if err := a.Form().Run(); err != nil {
		return fmt.Errorf("account setup: %w", err)
	}
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("email address is required")
	}
	if model.DomainOf(s) == "" {
		return fmt.Errorf("email address must contain a domain")
	}
	return nil
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}
