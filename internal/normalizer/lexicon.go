package normalizer

import (
	"strings"
	"sync"
	"unicode"
)

// Lexicon is the externally supplied mapping table: code equivalences between
// ERP code schemes, token synonyms, and affixes that carry no identity.
// A nil *Lexicon behaves like an empty one.
type Lexicon struct {
	mu            sync.RWMutex
	parent        map[string]string
	synonyms      map[string]string
	stripSuffixes []string
	stripPrefixes []string
}

// NewLexicon returns a lexicon with the default affixes (suffixes MR and D,
// prefixes VALVE and CHECK) and no mappings.
func NewLexicon() *Lexicon {
	return &Lexicon{
		parent:        make(map[string]string),
		synonyms:      make(map[string]string),
		stripSuffixes: []string{"MR", "D"},
		stripPrefixes: []string{"VALVE", "CHECK"},
	}
}

// CodeKey reduces a code to its letters and digits, upper-cased. Equivalences
// are keyed on it so "DP-1014" and "dp 1014" are the same code.
func CodeKey(code string) string {
	code = stripParentheticals(foldCase(code))
	var b strings.Builder
	for _, r := range code {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AddEquivalence records that codes a and b identify the same item. Sets of
// equivalent codes are merged; the lexically smallest key of a set is its
// canonical representative. The affix-free form of each code joins the set
// too, so "CH-1014" also maps "CH-1014 MR".
func (l *Lexicon) AddEquivalence(a, b string) {
	ka, kb := CodeKey(a), CodeKey(b)
	if ka == "" || kb == "" {
		return
	}
	sa, sb := l.affixFreeKey(a), l.affixFreeKey(b)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range []string{kb, sa, sb} {
		if k != "" {
			l.union(ka, k)
		}
	}
}

func (l *Lexicon) union(a, b string) {
	for _, k := range []string{a, b} {
		if _, ok := l.parent[k]; !ok {
			l.parent[k] = k
		}
	}
	ra, rb := l.find(a), l.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		l.parent[rb] = ra
	} else {
		l.parent[ra] = rb
	}
}

// affixFreeKey is the CodeKey of code once its prefix and suffix tokens
// are stripped.
func (l *Lexicon) affixFreeKey(code string) string {
	return CodeKey(strings.Join(l.stripAffixes(split(stripParentheticals(foldCase(code)))), " "))
}

// find walks to the root without path compression, so reads never write.
func (l *Lexicon) find(key string) string {
	for {
		p, ok := l.parent[key]
		if !ok || p == key {
			return key
		}
		key = p
	}
}

// Canonical returns the representative key for code, and whether code takes
// part in any equivalence. A code that is not mapped as written is looked up
// again without its affixes.
func (l *Lexicon) Canonical(code string) (string, bool) {
	key := CodeKey(code)
	if l == nil || key == "" {
		return key, false
	}
	stripped := l.affixFreeKey(code)

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, k := range []string{key, stripped} {
		if _, ok := l.parent[k]; ok {
			return l.find(k), true
		}
	}
	return key, false
}

// AddSynonym maps token to canonical during tokenization
func (l *Lexicon) AddSynonym(token, canonical string) {
	token, canonical = foldCase(token), foldCase(canonical)
	if token == "" || canonical == "" || token == canonical {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.synonyms[token] = canonical
}

func (l *Lexicon) synonym(token string) string {
	if l == nil {
		return token
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.synonyms[token]; ok {
		return c
	}
	return token
}

// SetStripSuffixes replaces the trailing code tokens that are dropped
func (l *Lexicon) SetStripSuffixes(suffixes ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stripSuffixes = foldAll(suffixes)
}

// SetStripPrefixes replaces the leading code tokens that are dropped
func (l *Lexicon) SetStripPrefixes(prefixes ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stripPrefixes = foldAll(prefixes)
}

// stripAffixes removes leading prefix tokens and one trailing suffix token,
// always leaving at least one token.
func (l *Lexicon) stripAffixes(tokens []string) []string {
	if l == nil {
		return tokens
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for len(tokens) > 1 && contains(l.stripPrefixes, tokens[0]) {
		tokens = tokens[1:]
	}
	if len(tokens) > 1 && contains(l.stripSuffixes, tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// Size returns the number of codes that take part in an equivalence
func (l *Lexicon) Size() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.parent)
}

// Clone returns an independent copy with the same mappings and affixes
func (l *Lexicon) Clone() *Lexicon {
	c := NewLexicon()
	if l == nil {
		return c
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for k, v := range l.parent {
		c.parent[k] = v
	}
	for k, v := range l.synonyms {
		c.synonyms[k] = v
	}
	c.stripSuffixes = append([]string(nil), l.stripSuffixes...)
	c.stripPrefixes = append([]string(nil), l.stripPrefixes...)
	return c
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if f := foldCase(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
