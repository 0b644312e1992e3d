package email

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/inbox-sweep/internal/source"
)

// composeMessage renders msg as a plain-text RFC 5322 message.
func composeMessage(from string, msg source.OutgoingMail, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "UTF-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message body: %w", err)
	}
	return buf.Bytes(), nil
}

// sendMail composes and sends msg via SMTP.
func sendMail(cfg SMTPConfig, msg source.OutgoingMail) error {
	from := cfg.Username
	body, err := composeMessage(from, msg, time.Now())
	if err != nil {
		return err
	}

	c, err := dialSMTP(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code == 535 {
			return &source.AuthError{Provider: "smtp", Message: smtpErr.Message}
		}
		return fmt.Errorf("SMTP AUTH: %w", err)
	}

	return deliver(c, from, msg.To, body)
}

// dialSMTP connects with implicit TLS or upgrades via STARTTLS.
func dialSMTP(cfg SMTPConfig) (*smtp.Client, error) {
	addr := cfg.Host + ":" + cfg.Port
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	if cfg.TLS {
		c, err := smtp.DialTLS(addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("TLS dial to %s: %w", addr, err)
		}
		return c, nil
	}

	c, err := smtp.DialStartTLS(addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("STARTTLS dial to %s: %w", addr, err)
	}
	return c, nil
}

// deliver sends a message using an already-authenticated SMTP client.
func deliver(c *smtp.Client, from, to string, body []byte) error {
	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := wc.Write(body); err != nil {
		_ = wc.Close()
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	// The message is accepted once DATA closes.
	_ = c.Quit()
	return nil
}
