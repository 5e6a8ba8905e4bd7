// Package allowlist decides which hosts QR URLs and provider endpoints may point at.
package allowlist

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// DefaultHosts are the tax authority domains issuing NFC-e consultation URLs.
// Every entry also admits its subdomains.
var DefaultHosts = []string{
	"fazenda.gov.br",
	"sefaz.rs.gov.br",
	"sef.sc.gov.br",
	"fazenda.pr.gov.br",
	"fazenda.sp.gov.br",
	"fazenda.rj.gov.br",
	"fazenda.mg.gov.br",
	"sefaz.mt.gov.br",
	"sefaz.ms.gov.br",
	"sefaz.ba.gov.br",
	"sefaz.pe.gov.br",
	"sefaz.go.gov.br",
	"sefaz.am.gov.br",
	"sefaz.ce.gov.br",
	"sefa.pa.gov.br",
	"sefaz.es.gov.br",
	"sefaz.df.gov.br",
}

var profile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
)

// List is immutable once built; safe for concurrent use.
type List struct {
	hosts map[string]struct{}
}

// New normalizes every entry to its ASCII (punycode) lowercase form.
func New(hosts ...string) (*List, error) {
	l := &List{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			continue
		}
		norm, err := NormalizeEntry(h)
		if err != nil {
			return nil, err
		}
		l.hosts[norm] = struct{}{}
	}
	return l, nil
}

// Default returns DefaultHosts plus extra entries.
func Default(extra ...string) (*List, error) {
	all := make([]string, 0, len(DefaultHosts)+len(extra))
	all = append(all, DefaultHosts...)
	all = append(all, extra...)
	return New(all...)
}

// NormalizeEntry accepts the configured forms of an entry ("host", "*.host",
// unicode names) and returns the stored ASCII form.
func NormalizeEntry(entry string) (string, error) {
	h := strings.TrimPrefix(strings.TrimSpace(entry), "*.")
	norm, err := Normalize(h)
	if err != nil {
		return "", fmt.Errorf("allowlist entry %q: %w", entry, err)
	}
	return norm, nil
}

// Normalize lowercases a host, drops a trailing dot and converts it to ASCII.
func Normalize(host string) (string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("ip literal %q is not a domain", host)
	}
	ascii, err := profile.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// Allows reports whether host equals an entry or is a subdomain of one.
// Ports are ignored; IP literals and malformed names never match.
func (l *List) Allows(host string) bool {
	if l == nil {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	norm, err := Normalize(host)
	if err != nil {
		return false
	}
	for candidate := norm; candidate != ""; {
		if _, ok := l.hosts[candidate]; ok {
			return true
		}
		dot := strings.IndexByte(candidate, '.')
		if dot < 0 {
			break
		}
		candidate = candidate[dot+1:]
	}
	return false
}

// AllowsURL checks the host of an absolute http(s) URL.
func (l *List) AllowsURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return l.Allows(u.Hostname())
}

// Hosts returns the normalized entries, sorted.
func (l *List) Hosts() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.hosts))
	for h := range l.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
