package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jdkato/prose/v2"
	"github.com/kljensen/snowball/english"
)

const defaultLexicalCacheSize = 1024

// stopWords carry no information about the action being performed. Subject
// nouns are included because every acquisition caption starts with one.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "into": {}, "on": {}, "onto": {}, "at": {}, "for": {}, "from": {},
	"by": {}, "with": {}, "is": {}, "are": {}, "be": {}, "being": {}, "it": {},
	"its": {}, "this": {}, "that": {}, "their": {}, "his": {}, "her": {},
	"worker": {}, "workers": {}, "person": {}, "someone": {},
}

// termVector keeps its terms sorted so dot products are summed in a fixed
// order and identical inputs always produce bit-identical scores.
type termVector struct {
	terms   []string
	weights map[string]float64
	norm    float64
}

// LexicalProvider is a deterministic, offline provider: bag-of-words cosine
// over stemmed tokens. Candidate vectors are memoized so a SOP's step
// descriptions are tokenized once.
type LexicalProvider struct {
	cache *lru.Cache[string, termVector]
}

var _ Provider = (*LexicalProvider)(nil)

func NewLexicalProvider() (*LexicalProvider, error) {
	cache, err := lru.New[string, termVector](defaultLexicalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create term cache: %w", err)
	}
	return &LexicalProvider{cache: cache}, nil
}

func (p *LexicalProvider) Similarities(ctx context.Context, text string, candidates []string) ([]float64, error) {
	query, err := p.vector(text)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(candidates))
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := p.vector(candidate)
		if err != nil {
			return nil, err
		}
		scores[i] = clamp(sparseCosine(query, v))
	}

	return scores, nil
}

func (p *LexicalProvider) vector(text string) (termVector, error) {
	if v, ok := p.cache.Get(text); ok {
		return v, nil
	}

	terms, err := Terms(text)
	if err != nil {
		return termVector{}, err
	}

	v := newTermVector(terms)
	p.cache.Add(text, v)
	return v, nil
}

// Terms tokenizes text and returns its lower-cased content words, stemmed
// with the Porter2 English stemmer.
func Terms(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize %q: %w", text, err)
	}

	var terms []string
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(tok.Text)
		if !isWord(word) {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		terms = append(terms, english.Stem(word, true))
	}
	return terms, nil
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func newTermVector(terms []string) termVector {
	v := termVector{weights: make(map[string]float64, len(terms))}
	for _, term := range terms {
		if _, ok := v.weights[term]; !ok {
			v.terms = append(v.terms, term)
		}
		v.weights[term]++
	}
	sort.Strings(v.terms)

	var sum float64
	for _, term := range v.terms {
		sum += v.weights[term] * v.weights[term]
	}
	v.norm = math.Sqrt(sum)
	return v
}

func sparseCosine(a, b termVector) float64 {
	if a.norm == 0 || b.norm == 0 {
		return 0
	}

	var dot float64
	for _, term := range a.terms {
		if wb, ok := b.weights[term]; ok {
			dot += a.weights[term] * wb
		}
	}

	return dot / (a.norm * b.norm)
}
