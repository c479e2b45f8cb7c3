package exchange

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// quoteSuffixLen is the quote asset length assumed for spellings without a
// separator such as BTCUSDT.
const quoteSuffixLen = 3

// Normalize canonicalizes an exchange specific pair spelling into BASE/QUOTE.
//
// Spellings with '/' or '_' are upper-cased and '_' becomes '/'. Spellings
// without a separator are split before their last three characters, which
// misparses quote assets of other lengths: "BTCUSDT" becomes "BTCU/SDT".
// Connectors that know the subscribed pairs should resolve native symbols
// against them first and only fall back to Normalize.
func Normalize(raw string) (string, error) {
	pair := cases.Upper(language.Und).String(strings.TrimSpace(raw))

	if strings.ContainsAny(pair, "/_") {
		pair = strings.ReplaceAll(pair, "_", "/")
	} else {
		if len(pair) <= quoteSuffixLen {
			return "", errors.Wrapf(ErrInvalidPairFormat, "%q is too short", raw)
		}
		pair = pair[:len(pair)-quoteSuffixLen] + "/" + pair[len(pair)-quoteSuffixLen:]
	}

	base, quote, _ := strings.Cut(pair, "/")
	if base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", errors.Wrapf(ErrInvalidPairFormat, "%q", raw)
	}

	return pair, nil
}

// NormalizeAll normalizes, dedupes and drops invalid spellings, returning the
// invalid ones separately so callers can report them.
func NormalizeAll(raw []string) (pairs []string, invalid []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		p, err := Normalize(r)
		if err != nil {
			invalid = append(invalid, r)
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs, invalid
}
