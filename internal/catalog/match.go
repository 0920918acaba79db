package catalog

import "strings"

// honorifics are stripped from queries and catalog names before
// comparison so "Dr. Carlos" can match "Carlos Mendes".
var honorifics = map[string]struct{}{
	"dr":      {},
	"dra":     {},
	"dr.":     {},
	"dra.":    {},
	"doutor":  {},
	"doutora": {},
}

// NameMatches reports whether the free-text query names the candidate.
// Matching is case- and accent-insensitive: the query matches when every
// one of its significant tokens appears as a substring of the candidate
// name, or the whole candidate name appears in the query.
func NameMatches(query, name string) bool {
	q := normalizeName(query)
	n := normalizeName(name)
	if q == "" || n == "" {
		return false
	}
	if strings.Contains(q, n) {
		return true
	}

	tokens := significantTokens(q)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !strings.Contains(n, tok) {
			return false
		}
	}
	return true
}

func significantTokens(normalized string) []string {
	var out []string
	for _, tok := range strings.Fields(normalized) {
		if _, skip := honorifics[tok]; skip {
			continue
		}
		out = append(out, tok)
	}
	return out
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

func normalizeName(s string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}
