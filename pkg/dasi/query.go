package dasi

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/maxiofs/dasi/pkg/engine"
)

// QueryPair is one keyword of a Query with its candidate values.
type QueryPair = engine.Term

// Query selects objects by listing candidate values per keyword. An object
// matches when each of its attributes named by the query holds one of the
// candidates.
type Query struct {
	terms engine.Request
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{}
}

// QueryFromPairs builds a query from pairs in order.
func QueryFromPairs(pairs ...QueryPair) *Query {
	q := &Query{terms: make(engine.Request, 0, len(pairs))}
	for _, p := range pairs {
		q.Set(p.Keyword, p.Values...)
	}
	return q
}

// QueryFromMap builds a query from m with keywords in sorted order.
func QueryFromMap(m map[string][]string) *Query {
	keywords := make([]string, 0, len(m))
	for kw := range m {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	q := &Query{terms: make(engine.Request, 0, len(m))}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		q.terms = append(q.terms, QueryPair{Keyword: kw, Values: slices.Clone(m[kw])})
	}
	return q
}

// QueryFromKey builds the query selecting exactly the object of k.
func QueryFromKey(k *Key) *Query {
	q := &Query{terms: make(engine.Request, 0, k.Count())}
	for _, p := range k.pairs {
		q.terms = append(q.terms, QueryPair{Keyword: p.Keyword, Values: []string{p.Value}})
	}
	return q
}

// ParseQuery parses the "k1=v1/v2/v3,k2=v4" form produced by String.
func ParseQuery(s string) (*Query, error) {
	parsed, err := parsePairs(s)
	if err != nil {
		return nil, err
	}
	q := &Query{terms: make(engine.Request, 0, len(parsed))}
	for _, p := range parsed {
		q.terms = append(q.terms, QueryPair{Keyword: p.keyword, Values: p.values})
	}
	return q, nil
}

// Clone returns an independent copy of q.
func (q *Query) Clone() *Query {
	return &Query{terms: q.terms.Clone()}
}

func (q *Query) index(keyword string) int {
	for i, t := range q.terms {
		if t.Keyword == keyword {
			return i
		}
	}
	return -1
}

// Set replaces the candidate values of keyword. An empty keyword is
// ignored.
func (q *Query) Set(keyword string, values ...string) {
	if keyword == "" {
		return
	}
	values = slices.Clone(values)
	if i := q.index(keyword); i >= 0 {
		q.terms[i].Values = values
		return
	}
	q.terms = append(q.terms, QueryPair{Keyword: keyword, Values: values})
}

// Append adds one candidate value to keyword, setting it if needed.
func (q *Query) Append(keyword, value string) {
	if keyword == "" {
		return
	}
	if i := q.index(keyword); i >= 0 {
		q.terms[i].Values = append(q.terms[i].Values, value)
		return
	}
	q.terms = append(q.terms, QueryPair{Keyword: keyword, Values: []string{value}})
}

// Get returns a copy of the candidate values of keyword, or an
// ErrNotFound error.
func (q *Query) Get(keyword string) ([]string, error) {
	if i := q.index(keyword); i >= 0 {
		return slices.Clone(q.terms[i].Values), nil
	}
	return nil, notFound("query", "keyword "+quote(keyword)+" is not set")
}

// GetValue returns the candidate of keyword at index. A missing keyword or
// an index out of range is an ErrNotFound error.
func (q *Query) GetValue(keyword string, index int) (string, error) {
	i := q.index(keyword)
	if i < 0 {
		return "", notFound("query", "keyword "+quote(keyword)+" is not set")
	}
	values := q.terms[i].Values
	if index < 0 || index >= len(values) {
		return "", notFound("query", "index "+strconv.Itoa(index)+" out of range for keyword "+
			quote(keyword)+" with "+strconv.Itoa(len(values))+" values")
	}
	return values[index], nil
}

// CountValue returns the number of candidates of keyword, 0 when it is not
// set.
func (q *Query) CountValue(keyword string) int {
	if i := q.index(keyword); i >= 0 {
		return len(q.terms[i].Values)
	}
	return 0
}

// Erase removes keyword. Erasing a keyword that is not set does nothing.
func (q *Query) Erase(keyword string) {
	if i := q.index(keyword); i >= 0 {
		q.terms = slices.Delete(q.terms, i, i+1)
	}
}

// Has reports whether keyword is set.
func (q *Query) Has(keyword string) bool {
	return q.index(keyword) >= 0
}

// Count returns the number of keywords.
func (q *Query) Count() int {
	return len(q.terms)
}

// Clear removes every keyword.
func (q *Query) Clear() {
	q.terms = q.terms[:0]
}

// Keywords returns the keywords in insertion order.
func (q *Query) Keywords() []string {
	return q.terms.Keywords()
}

// String renders the query as "k1=v1/v2,k2=v3" in insertion order.
func (q *Query) String() string {
	if q == nil {
		return ""
	}
	parts := make([]string, len(q.terms))
	for i, t := range q.terms {
		values := make([]string, len(t.Values))
		for j, v := range t.Values {
			values[j] = escapeText(v)
		}
		parts[i] = escapeText(t.Keyword) + string(valueSep) + strings.Join(values, string(candSep))
	}
	return strings.Join(parts, string(pairSep))
}

// request copies the terms handed to the engine, which may hold on to
// them for as long as a cursor lives.
func (q *Query) request() engine.Request {
	if q == nil {
		return nil
	}
	return q.terms.Clone()
}
