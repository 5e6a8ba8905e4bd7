package qrcode

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/allowlist"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

var accessKeyRunRe = regexp.MustCompile(`(?:^|\D)(\d{44})(?:\D|$)`)

// Resolver extracts the access key from validated scan text.
type Resolver struct {
	hosts *allowlist.List
}

func NewResolver(hosts *allowlist.List) *Resolver {
	return &Resolver{hosts: hosts}
}

// Resolve accepts either a bare 44-digit key or a consultation URL on an
// allow-listed host. It does no I/O.
func (r *Resolver) Resolve(text domain.ValidatedText) (domain.AccessKey, error) {
	const op = "resolve access key"
	s := strings.TrimSpace(string(text))

	if compact := strings.ReplaceAll(s, " ", ""); domain.IsAccessKey(compact) {
		return domain.AccessKey(compact), nil
	}

	u, ok := parseHTTPURL(s)
	if !ok {
		return "", domain.WrapError(domain.ErrInvalidQRCode, op, fmt.Errorf("neither access key nor url"))
	}
	if !r.hosts.AllowsURL(u) {
		return "", domain.WrapError(domain.ErrDisallowedHost, op, fmt.Errorf("host %q", u.Hostname()))
	}

	for _, part := range []string{u.Path, u.RawQuery} {
		if key, found := firstKeyRun(part); found {
			return key, nil
		}
	}
	return "", domain.WrapError(domain.ErrInvalidQRCode, op, fmt.Errorf("no access key in url"))
}

func parseHTTPURL(s string) (*url.URL, bool) {
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u, true
}

func firstKeyRun(s string) (domain.AccessKey, bool) {
	if unescaped, err := url.QueryUnescape(s); err == nil {
		s = unescaped
	}
	m := accessKeyRunRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return domain.AccessKey(m[1]), true
}
