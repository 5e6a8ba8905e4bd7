// Package qrcode turns untrusted scanner output into an access key.
package qrcode

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

const MaxInputRunes = 2000

var blockedPatterns = []string{
	"<script",
	"</script",
	"javascript:",
	"vbscript:",
	"livescript:",
	"data:text/html",
	"data:application/xhtml",
	"data:image/svg+xml",
}

// Validate sanitizes raw scan text and rejects anything that could be an injection
// vector. Every failure wraps domain.ErrInvalidInput.
func Validate(raw string) (domain.ValidatedText, error) {
	const op = "validate qr text"

	if n := utf8.RuneCountInString(raw); n > MaxInputRunes {
		return "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("%d runes exceeds %d", n, MaxInputRunes))
	}
	if !utf8.ValidString(raw) {
		return "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("not valid utf-8"))
	}

	clean := sanitize(raw)
	if clean == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("empty after sanitization"))
	}

	lower := strings.ToLower(clean)
	compact := strings.ReplaceAll(lower, " ", "")
	for _, p := range blockedPatterns {
		if strings.Contains(lower, p) || strings.Contains(compact, p) {
			return "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("blocked pattern %q", p))
		}
	}

	for _, r := range clean {
		if !unicode.IsPrint(r) {
			return "", domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("non-printable rune %U", r))
		}
	}
	return domain.ValidatedText(clean), nil
}

// sanitize maps whitespace to single spaces and drops control and format runes.
func sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pendingSpace := false
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
