package dasi

import (
	"slices"
	"sort"
	"strings"

	"github.com/maxiofs/dasi/pkg/engine"
)

// Pair is one keyword/value attribute of a Key.
type Pair = engine.Attr

// Key identifies one archived object by its attributes. Keywords are
// unique and never empty: an empty keyword has no delimited form, so
// setters ignore it. Insertion order is kept for display and does not take
// part in equality.
//
// Values are byte strings; nothing in this package or the bundled engine
// assumes they are valid UTF-8.
type Key struct {
	pairs engine.Attrs
}

// NewKey returns an empty key.
func NewKey() *Key {
	return &Key{}
}

// KeyFromPairs builds a key from pairs in order. A repeated keyword keeps
// its first position and its last value.
func KeyFromPairs(pairs ...Pair) *Key {
	k := &Key{pairs: make(engine.Attrs, 0, len(pairs))}
	for _, p := range pairs {
		k.Set(p.Keyword, p.Value)
	}
	return k
}

// KeyFromMap builds a key from m with keywords in sorted order.
func KeyFromMap(m map[string]string) *Key {
	keywords := make([]string, 0, len(m))
	for kw := range m {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	k := &Key{pairs: make(engine.Attrs, 0, len(m))}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		k.pairs = append(k.pairs, Pair{Keyword: kw, Value: m[kw]})
	}
	return k
}

// ParseKey parses the "k1=v1,k2=v2" form produced by String.
func ParseKey(s string) (*Key, error) {
	parsed, err := parsePairs(s)
	if err != nil {
		return nil, err
	}
	k := &Key{pairs: make(engine.Attrs, 0, len(parsed))}
	for _, p := range parsed {
		if len(p.values) != 1 {
			return nil, parseError(s, "keyword "+quote(p.keyword)+" has several values; a key takes one")
		}
		k.pairs = append(k.pairs, Pair{Keyword: p.keyword, Value: p.values[0]})
	}
	return k, nil
}

// keyFromAttrs adopts attributes returned by the engine without copying
func keyFromAttrs(attrs engine.Attrs) *Key {
	return &Key{pairs: attrs}
}

// Clone returns an independent copy of k.
func (k *Key) Clone() *Key {
	return &Key{pairs: slices.Clone(k.pairs)}
}

func (k *Key) index(keyword string) int {
	for i, p := range k.pairs {
		if p.Keyword == keyword {
			return i
		}
	}
	return -1
}

// Set inserts keyword or overwrites its value. An empty keyword is
// ignored.
func (k *Key) Set(keyword, value string) {
	if keyword == "" {
		return
	}
	if i := k.index(keyword); i >= 0 {
		k.pairs[i].Value = value
		return
	}
	k.pairs = append(k.pairs, Pair{Keyword: keyword, Value: value})
}

// Get returns the value of keyword, or an ErrNotFound error.
func (k *Key) Get(keyword string) (string, error) {
	if i := k.index(keyword); i >= 0 {
		return k.pairs[i].Value, nil
	}
	return "", notFound("key", "keyword "+quote(keyword)+" is not set")
}

// Erase removes keyword. Erasing a keyword that is not set does nothing.
func (k *Key) Erase(keyword string) {
	if i := k.index(keyword); i >= 0 {
		k.pairs = slices.Delete(k.pairs, i, i+1)
	}
}

// Has reports whether keyword is set.
func (k *Key) Has(keyword string) bool {
	return k.index(keyword) >= 0
}

// Count returns the number of keywords.
func (k *Key) Count() int {
	return len(k.pairs)
}

// Clear removes every keyword.
func (k *Key) Clear() {
	k.pairs = k.pairs[:0]
}

// Keywords returns the keywords in insertion order.
func (k *Key) Keywords() []string {
	out := make([]string, len(k.pairs))
	for i, p := range k.pairs {
		out[i] = p.Keyword
	}
	return out
}

// Pairs returns a copy of the attributes in insertion order.
func (k *Key) Pairs() []Pair {
	return slices.Clone(k.pairs)
}

func (k *Key) sorted() engine.Attrs {
	out := slices.Clone(k.pairs)
	slices.SortFunc(out, func(a, b Pair) int {
		return strings.Compare(a.Keyword, b.Keyword)
	})
	return out
}

// Compare orders keys by their sorted attributes. Only the zero result is
// meaningful across versions: it means the keys are equal.
func (k *Key) Compare(other *Key) int {
	return slices.CompareFunc(k.sorted(), other.sorted(), func(a, b Pair) int {
		if c := strings.Compare(a.Keyword, b.Keyword); c != 0 {
			return c
		}
		return strings.Compare(a.Value, b.Value)
	})
}

// Equal reports whether both keys hold the same keywords with the same
// values.
func (k *Key) Equal(other *Key) bool {
	if k.Count() != other.Count() {
		return false
	}
	for _, p := range k.pairs {
		if v, ok := other.pairs.Lookup(p.Keyword); !ok || v != p.Value {
			return false
		}
	}
	return true
}

// String renders the key as "k1=v1,k2=v2" in insertion order. Separators
// inside keywords and values are escaped with a backslash.
func (k *Key) String() string {
	parts := make([]string, len(k.pairs))
	for i, p := range k.pairs {
		parts[i] = escapeText(p.Keyword) + string(valueSep) + escapeText(p.Value)
	}
	return strings.Join(parts, string(pairSep))
}

func (k *Key) attrs() engine.Attrs {
	return slices.Clone(k.pairs)
}
