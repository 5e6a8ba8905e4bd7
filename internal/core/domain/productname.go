package domain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const UnnamedProduct = "produto sem nome"

var (
	measureTokenRe  = regexp.MustCompile(`(?i)\d+([.,]\d+)?\s*(kg|g|ml|l|lt|un|und|pct|pac|cx|emb|gr|mg|cl|dl)\b`)
	standaloneNumRe = regexp.MustCompile(`\b\d+([.,]\d+)?\b`)
	nonWordRe       = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

	productStopwords = map[string]struct{}{
		"a": {}, "o": {}, "e": {}, "de": {}, "do": {}, "da": {}, "em": {}, "um": {}, "uma": {},
		"para": {}, "com": {}, "por": {}, "que": {}, "na": {}, "no": {}, "as": {}, "os": {},
		"ao": {}, "pelo": {}, "pela": {}, "dos": {}, "das": {}, "tipo": {}, "marca": {},
		"sabor": {}, "unidade": {}, "un": {}, "pacote": {}, "pac": {}, "caixa": {}, "cx": {},
		"embalagem": {}, "emb": {},
	}
)

// NormalizeProductName reduces a receipt line description to the form products
// are deduplicated under: lowercase, no accents, no measures, numbers or stopwords.
func NormalizeProductName(description string) string {
	s := strings.ToLower(strings.TrimSpace(description))
	s = stripAccents(s)
	s = measureTokenRe.ReplaceAllString(s, " ")
	s = standaloneNumRe.ReplaceAllString(s, " ")
	s = nonWordRe.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, stop := productStopwords[w]; stop {
			continue
		}
		if len([]rune(w)) <= 2 {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return UnnamedProduct
	}
	return strings.Join(kept, " ")
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
