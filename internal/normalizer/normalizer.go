// Package normalizer turns raw item codes and descriptions into canonical token
// sets that can be compared across code schemes.
package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"po-reconciliation-service/internal/units"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parenthetical = regexp.MustCompile(`\(([^()]*)\)`)
	numericToken  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// Result is the canonical form of one code/description pair
type Result struct {
	CodeTokens        TokenSet          `json:"code_tokens"`
	DescriptionTokens TokenSet          `json:"description_tokens"`
	Provenance        []string          `json:"provenance,omitempty"`
	Units             map[string]string `json:"units,omitempty"`
}

// Tokens returns code and description tokens together
func (r *Result) Tokens() TokenSet {
	return r.CodeTokens.Union(r.DescriptionTokens)
}

// Normalizer applies a Lexicon during normalization. It holds no per-call
// state and can be shared between goroutines.
type Normalizer struct {
	lexicon *Lexicon
}

// New creates a normalizer. A nil lexicon disables code rewriting, synonyms
// and affix stripping.
func New(lexicon *Lexicon) *Normalizer {
	return &Normalizer{lexicon: lexicon}
}

var defaultNormalizer = New(NewLexicon())

// Normalize uses the default lexicon, which only strips the default affixes
func Normalize(rawCode, rawDescription string) *Result {
	return defaultNormalizer.Normalize(rawCode, rawDescription)
}

// Lexicon returns the lexicon in use
func (n *Normalizer) Lexicon() *Lexicon {
	return n.lexicon
}

// Normalize never fails. Text it cannot interpret is kept as literal tokens.
func (n *Normalizer) Normalize(rawCode, rawDescription string) *Result {
	res := &Result{
		CodeTokens:        make(TokenSet),
		DescriptionTokens: make(TokenSet),
		Units:             make(map[string]string),
	}

	code := res.takeProvenance(foldCase(rawCode))
	if canonical, ok := n.lexicon.Canonical(code); ok {
		code = canonical
	}
	for _, tok := range n.lexicon.stripAffixes(n.tokenize(code, res.Units)) {
		res.CodeTokens.Add(tok)
	}

	desc := res.takeProvenance(foldCase(rawDescription))
	for _, tok := range n.tokenize(desc, res.Units) {
		if !res.CodeTokens.Has(tok) {
			res.DescriptionTokens.Add(tok)
		}
	}

	return res
}

var diacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldCase(s string) string {
	if folded, _, err := transform.String(diacritics, s); err == nil {
		s = folded
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func stripParentheticals(s string) string {
	return parenthetical.ReplaceAllString(s, " ")
}

func (r *Result) takeProvenance(s string) string {
	for _, m := range parenthetical.FindAllStringSubmatch(s, -1) {
		if tag := strings.TrimSpace(m[1]); tag != "" && !containsTag(r.Provenance, tag) {
			r.Provenance = append(r.Provenance, tag)
		}
	}
	return stripParentheticals(s)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// tokenize splits s, applies synonyms, folds unit tokens that follow a number
// into unitsOut, and canonicalises numbers.
func (n *Normalizer) tokenize(s string, unitsOut map[string]string) []string {
	raw := split(s)
	out := make([]string, 0, len(raw))

	for i := 0; i < len(raw); i++ {
		tok := n.lexicon.synonym(raw[i])
		if !numericToken.MatchString(tok) {
			out = append(out, tok)
			continue
		}

		tok = canonicalNumber(tok)
		out = append(out, tok)
		if i+1 < len(raw) && units.IsUnit(raw[i+1]) {
			unitsOut[tok] = units.Canon(raw[i+1])
			i++
		}
	}
	return out
}

func canonicalNumber(tok string) string {
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return tok
	}
	return d.String()
}

// split breaks s at whitespace, punctuation and letter/digit boundaries. A
// period between two digits stays inside the number.
func split(s string) []string {
	rs := []rune(s)
	var tokens []string
	var cur []rune
	var curDigit bool

	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range rs {
		switch {
		case unicode.IsDigit(r):
			if len(cur) > 0 && !curDigit {
				flush()
			}
			curDigit = true
			cur = append(cur, r)
		case unicode.IsLetter(r):
			if len(cur) > 0 && curDigit {
				flush()
			}
			curDigit = false
			cur = append(cur, r)
		case r == '.' && curDigit && len(cur) > 0 && !containsRune(cur, '.') &&
			i+1 < len(rs) && unicode.IsDigit(rs[i+1]):
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func containsRune(rs []rune, want rune) bool {
	for _, r := range rs {
		if r == want {
			return true
		}
	}
	return false
}
