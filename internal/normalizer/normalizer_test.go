package normalizer

import (
	"reflect"
	"sync"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		desc       string
		wantCode   []string
		wantDesc   []string
		provenance []string
		units      map[string]string
	}{
		{
			name:     "glued code splits at letter digit boundaries",
			code:     "DP1014MM",
			desc:     "ADNOC",
			wantCode: []string{"1014", "DP"},
			wantDesc: []string{"ADNOC"},
			units:    map[string]string{"1014": "MM"},
		},
		{
			name:       "parenthetical becomes provenance",
			code:       "DP 1014 MM (ADNOC)",
			wantCode:   []string{"1014", "DP"},
			wantDesc:   []string{},
			provenance: []string{"ADNOC"},
			units:      map[string]string{"1014": "MM"},
		},
		{
			name:     "punctuation collapses and decimals survive",
			code:     "gv--2.50/in",
			wantCode: []string{"2.5", "GV"},
			wantDesc: []string{},
			units:    map[string]string{"2.5": "IN"},
		},
		{
			name:     "unit without number is kept",
			code:     "MM DP",
			wantCode: []string{"DP", "MM"},
			wantDesc: []string{},
		},
		{
			name:     "diacritics fold",
			code:     "Válvula 12",
			wantCode: []string{"12", "VALVULA"},
			wantDesc: []string{},
		},
		{
			name:     "MR suffix and prefixes are stripped",
			code:     "CHECK VALVE DP1014MR",
			wantCode: []string{"1014", "DP"},
			wantDesc: []string{},
		},
		{
			name:     "lone affix is kept",
			code:     "MR",
			wantCode: []string{"MR"},
			wantDesc: []string{},
		},
		{
			name:     "description drops code tokens",
			code:     "DP 1014",
			desc:     "dp check valve, carbon steel",
			wantCode: []string{"1014", "DP"},
			wantDesc: []string{"CARBON", "CHECK", "STEEL", "VALVE"},
		},
		{
			name:     "empty input",
			wantCode: []string{},
			wantDesc: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.code, tt.desc)

			if got := res.CodeTokens.Sorted(); !reflect.DeepEqual(got, tt.wantCode) {
				t.Errorf("code tokens = %v, want %v", got, tt.wantCode)
			}
			if got := res.DescriptionTokens.Sorted(); !reflect.DeepEqual(got, tt.wantDesc) {
				t.Errorf("description tokens = %v, want %v", got, tt.wantDesc)
			}
			if !reflect.DeepEqual(res.Provenance, tt.provenance) {
				t.Errorf("provenance = %v, want %v", res.Provenance, tt.provenance)
			}
			if tt.units != nil && !reflect.DeepEqual(res.Units, tt.units) {
				t.Errorf("units = %v, want %v", res.Units, tt.units)
			}
		})
	}
}

func TestNormalizeNumberCanonicalisation(t *testing.T) {
	a := Normalize("DP 1014.0", "")
	b := Normalize("DP 1014", "")
	if a.CodeTokens.Key() != b.CodeTokens.Key() {
		t.Errorf("expected %q to equal %q", a.CodeTokens.Key(), b.CodeTokens.Key())
	}
}

func TestLexiconEquivalences(t *testing.T) {
	lex := NewLexicon()
	lex.AddEquivalence("DP-1014", "100234")
	lex.AddEquivalence("A77", "dp 1014")

	n := New(lex)
	po := n.Normalize("DP1014", "")
	so := n.Normalize("100234", "")
	alt := n.Normalize("a-77", "")

	if po.CodeTokens.Key() != so.CodeTokens.Key() || po.CodeTokens.Key() != alt.CodeTokens.Key() {
		t.Errorf("expected equivalent codes to share tokens: %q %q %q",
			po.CodeTokens.Key(), so.CodeTokens.Key(), alt.CodeTokens.Key())
	}
	if got, _ := lex.Canonical("A77"); got != "100234" {
		t.Errorf("expected smallest key as representative, got %q", got)
	}
	if _, ok := lex.Canonical("ZZ9"); ok {
		t.Error("unmapped code should not report a mapping")
	}
	if lex.Size() != 3 {
		t.Errorf("expected 3 mapped codes, got %d", lex.Size())
	}
}

func TestLexiconEquivalenceIgnoresAffixes(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		lookup string
	}{
		{"suffix on the looked up code", "CH-1014", "9001014", "CH-1014 MR"},
		{"suffix on the mapped code", "CH-1014 MR", "9001014", "CH-1014"},
		{"prefix on the looked up code", "DP 1014", "100234", "CHECK VALVE DP1014"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lex := NewLexicon()
			lex.AddEquivalence(tt.a, tt.b)
			n := New(lex)

			got := n.Normalize(tt.lookup, "").CodeTokens.Key()
			want := n.Normalize(tt.b, "").CodeTokens.Key()
			if got != want {
				t.Errorf("Normalize(%q) code tokens = %q, want %q", tt.lookup, got, want)
			}
			if canonical, ok := lex.Canonical(tt.lookup); !ok || canonical != CodeKey(tt.b) {
				t.Errorf("Canonical(%q) = %q, %v; want %q", tt.lookup, canonical, ok, CodeKey(tt.b))
			}
		})
	}
}

func TestLexiconClone(t *testing.T) {
	lex := NewLexicon()
	lex.AddEquivalence("A77", "100234")
	lex.SetStripSuffixes("REV")

	c := lex.Clone()
	c.AddEquivalence("B88", "200345")

	if _, ok := lex.Canonical("B88"); ok {
		t.Error("mapping added to the clone leaked into the original")
	}
	if got, ok := c.Canonical("A77"); !ok || got != "100234" {
		t.Errorf("clone lost mapping: %q, %v", got, ok)
	}
	if got := New(c).Normalize("DP 1014 REV", "").CodeTokens.Sorted(); !reflect.DeepEqual(got, []string{"1014", "DP"}) {
		t.Errorf("clone lost suffixes: %v", got)
	}
}

func TestLexiconSynonymsAndAffixes(t *testing.T) {
	lex := NewLexicon()
	lex.AddSynonym("dpcv", "dp")
	lex.SetStripSuffixes("REV")
	lex.SetStripPrefixes()

	res := New(lex).Normalize("CHECK DPCV 1014 REV", "")
	want := []string{"1014", "CHECK", "DP"}
	if got := res.CodeTokens.Sorted(); !reflect.DeepEqual(got, want) {
		t.Errorf("code tokens = %v, want %v", got, want)
	}
}

func TestNilLexicon(t *testing.T) {
	res := New(nil).Normalize("DP1014MR", "")
	want := []string{"1014", "DP", "MR"}
	if got := res.CodeTokens.Sorted(); !reflect.DeepEqual(got, want) {
		t.Errorf("code tokens = %v, want %v", got, want)
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b TokenSet
		want float64
	}{
		{"identical", NewTokenSet("DP", "1014"), NewTokenSet("1014", "DP"), 1},
		{"half", NewTokenSet("DP", "1014"), NewTokenSet("DP", "2020"), 1.0 / 3.0},
		{"disjoint", NewTokenSet("A"), NewTokenSet("B"), 0},
		{"both empty", NewTokenSet(), NewTokenSet(), 0},
		{"one empty", NewTokenSet("A"), NewTokenSet(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); got != tt.want {
				t.Errorf("Jaccard = %v, want %v", got, tt.want)
			}
			if Jaccard(tt.a, tt.b) != Jaccard(tt.b, tt.a) {
				t.Error("Jaccard must be symmetric")
			}
		})
	}
}

func TestNormalizerConcurrentUse(t *testing.T) {
	lex := NewLexicon()
	lex.AddEquivalence("DP1014", "100234")
	n := New(lex)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if n.Normalize("100234", "").CodeTokens.Key() != "100234" {
					t.Error("unexpected canonical code")
					return
				}
			}
		}()
	}
	wg.Wait()
}
