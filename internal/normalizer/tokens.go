package normalizer

import (
	"sort"
	"strings"
)

// TokenSet is an unordered set of canonical tokens
type TokenSet map[string]struct{}

// NewTokenSet builds a set from tokens, ignoring empty strings
func NewTokenSet(tokens ...string) TokenSet {
	s := make(TokenSet, len(tokens))
	for _, t := range tokens {
		s.Add(t)
	}
	return s
}

// Add inserts a token
func (s TokenSet) Add(token string) {
	if token != "" {
		s[token] = struct{}{}
	}
}

// Has reports membership
func (s TokenSet) Has(token string) bool {
	_, ok := s[token]
	return ok
}

// Len returns the number of tokens
func (s TokenSet) Len() int {
	return len(s)
}

// Sorted returns the tokens in lexical order
func (s TokenSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Key joins the sorted tokens with a single space. Equal sets give equal keys.
func (s TokenSet) Key() string {
	return strings.Join(s.Sorted(), " ")
}

// Union returns a new set holding the tokens of both sets
func (s TokenSet) Union(other TokenSet) TokenSet {
	out := make(TokenSet, len(s)+len(other))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets give 0.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if large.Has(t) {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
