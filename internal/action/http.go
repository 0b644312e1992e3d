package action

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrPlainHTTP is returned for unsubscribe links that are not HTTPS.
var ErrPlainHTTP = errors.New("refusing plain http unsubscribe link")

// oneClickBody is the RFC 8058 form body sent on the POST retry.
const oneClickBody = "List-Unsubscribe=One-Click"

// HTTPUnsubscriber performs the HTTPS stage of unsubscribe.
type HTTPUnsubscriber struct {
	// Client issues the requests. Its own Timeout is not used; each
	// attempt is bounded by Timeout.
	Client *http.Client

	// Timeout bounds each request; the POST retry gets its own.
	Timeout time.Duration

	// Backoff is the pause before the single retry of a transient failure.
	Backoff time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// NewHTTPUnsubscriber returns an unsubscriber with a 3s timeout and 500ms
// backoff. client may be nil.
func NewHTTPUnsubscriber(client *http.Client) *HTTPUnsubscriber {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				if req.URL.Scheme != "https" {
					return ErrPlainHTTP
				}
				return nil
			},
		}
	}
	return &HTTPUnsubscriber{
		Client:    client,
		Timeout:   3 * time.Second,
		Backoff:   500 * time.Millisecond,
		UserAgent: "inbox-sweep/1.0",
	}
}

// transientError marks failures worth one retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Unsubscribe visits link. A transient failure (network error, timeout,
// 5xx, 429) is retried once after Backoff.
func (h *HTTPUnsubscriber) Unsubscribe(ctx context.Context, link string) error {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return fmt.Errorf("parsing unsubscribe link: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return ErrPlainHTTP
	}

	err = h.attempt(ctx, u.String())
	if err == nil || !isTransient(err) {
		return err
	}

	t := time.NewTimer(h.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return h.attempt(ctx, u.String())
}

// attempt issues a GET, falling back to one POST when the endpoint rejects
// the method.
func (h *HTTPUnsubscriber) attempt(ctx context.Context, link string) error {
	status, err := h.do(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	if status == http.StatusBadRequest || status == http.StatusMethodNotAllowed {
		status, err = h.do(ctx, http.MethodPost, link, strings.NewReader(oneClickBody))
		if err != nil {
			return err
		}
	}
	return classifyStatus(status)
}

func (h *HTTPUnsubscriber) do(ctx context.Context, method, link string, body io.Reader) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, link, body)
	if err != nil {
		return 0, fmt.Errorf("creating %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		if errors.Is(err, ErrPlainHTTP) {
			return 0, ErrPlainHTTP
		}
		if isNetworkTransient(err) {
			return 0, &transientError{fmt.Errorf("%s %s: %w", method, link, err)}
		}
		return 0, fmt.Errorf("%s %s: %w", method, link, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// isNetworkTransient reports whether a client error is a timeout or a
// dropped or refused connection. Certificate, DNS lookup and protocol
// errors are permanent.
func isNetworkTransient(err error) bool {
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}
	return false
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &transientError{fmt.Errorf("unsubscribe endpoint returned %d", status)}
	default:
		return fmt.Errorf("unsubscribe endpoint returned %d", status)
	}
}
