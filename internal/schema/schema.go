// Package schema describes which keyword combinations form a complete
// object key. A schema is a list of rules; each rule names the keywords of
// one level and may nest child rules for the levels below it. Every leaf of
// the rule tree yields one Path.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maxiofs/dasi/pkg/engine"
)

var (
	ErrInvalidSchema  = errors.New("invalid schema")
	ErrNoMatchingRule = errors.New("key does not match any schema rule")
)

// Rule is one node of the rule tree.
type Rule struct {
	Keywords []string
	Children []*Rule
}

// Path is a flattened root-to-leaf walk of the rule tree. Level 0 selects
// the database, the remaining levels the object inside it.
type Path struct {
	Levels   [][]string
	keywords []string
	set      map[string]int
}

func newPath(levels [][]string) (*Path, error) {
	p := &Path{set: make(map[string]int)}
	for depth, level := range levels {
		p.Levels = append(p.Levels, append([]string(nil), level...))
		for _, kw := range level {
			if _, dup := p.set[kw]; dup {
				return nil, fmt.Errorf("%w: keyword %q repeated along rule path", ErrInvalidSchema, kw)
			}
			p.set[kw] = depth
			p.keywords = append(p.keywords, kw)
		}
	}
	return p, nil
}

// Keywords returns every keyword of the path, level by level.
func (p *Path) Keywords() []string {
	return append([]string(nil), p.keywords...)
}

// Has reports whether keyword belongs to the path.
func (p *Path) Has(keyword string) bool {
	_, ok := p.set[keyword]
	return ok
}

// Len returns the number of keywords in the path.
func (p *Path) Len() int {
	return len(p.keywords)
}

// Depth returns the number of levels.
func (p *Path) Depth() int {
	return len(p.Levels)
}

func (p *Path) String() string {
	parts := make([]string, len(p.Levels))
	for i, level := range p.Levels {
		parts[i] = "[" + strings.Join(level, ", ") + "]"
	}
	return strings.Join(parts, " ")
}

// equalSet reports whether keywords is exactly the path's keyword set.
func (p *Path) equalSet(keywords []string) bool {
	if len(keywords) != len(p.keywords) {
		return false
	}
	for _, kw := range keywords {
		if !p.Has(kw) {
			return false
		}
	}
	return true
}

// Schema is an immutable set of rules.
type Schema struct {
	rules []*Rule
	paths []*Path
}

// New validates rules and flattens them into paths.
func New(rules []*Rule) (*Schema, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", ErrInvalidSchema)
	}
	s := &Schema{rules: rules}
	for _, r := range rules {
		if err := s.flatten(r, nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) flatten(r *Rule, parents [][]string) error {
	if len(r.Keywords) == 0 {
		return fmt.Errorf("%w: rule without keywords", ErrInvalidSchema)
	}
	for _, kw := range r.Keywords {
		if kw == "" {
			return fmt.Errorf("%w: empty keyword", ErrInvalidSchema)
		}
	}
	levels := append(append([][]string(nil), parents...), r.Keywords)
	if len(r.Children) == 0 {
		p, err := newPath(levels)
		if err != nil {
			return err
		}
		s.paths = append(s.paths, p)
		return nil
	}
	for _, child := range r.Children {
		if err := s.flatten(child, levels); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a schema file. Files ending in .yaml or .yml hold a YAML
// sequence of rules; anything else uses the bracket notation understood by
// Parse.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		return FromValue(v)
	default:
		return Parse(string(data))
	}
}

// FromValue builds a schema from a decoded YAML sequence such as
//
//	- [class, stream, [date, time, [step, param]]]
//
// where strings are the keywords of a level and nested sequences are its
// child rules.
func FromValue(v any) (*Schema, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a sequence of rules, got %T", ErrInvalidSchema, v)
	}
	rules := make([]*Rule, 0, len(list))
	for _, item := range list {
		r, err := ruleFromValue(item)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return New(rules)
}

func ruleFromValue(v any) (*Rule, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: rule must be a sequence, got %T", ErrInvalidSchema, v)
	}
	r := &Rule{}
	for _, item := range items {
		switch val := item.(type) {
		case string:
			if len(r.Children) > 0 {
				return nil, fmt.Errorf("%w: keyword %q follows a child rule", ErrInvalidSchema, val)
			}
			r.Keywords = append(r.Keywords, stripType(val))
		case []any:
			child, err := ruleFromValue(val)
			if err != nil {
				return nil, err
			}
			r.Children = append(r.Children, child)
		default:
			return nil, fmt.Errorf("%w: unexpected %T in rule", ErrInvalidSchema, item)
		}
	}
	return r, nil
}

// stripType drops a "keyword:Type" annotation.
func stripType(keyword string) string {
	if i := strings.IndexByte(keyword, ':'); i >= 0 {
		keyword = keyword[:i]
	}
	return strings.TrimSpace(keyword)
}

// Rules returns the rule tree.
func (s *Schema) Rules() []*Rule {
	return s.rules
}

// Paths returns every flattened path in rule order.
func (s *Schema) Paths() []*Path {
	return s.paths
}

// MatchError explains why a key matched no path, relative to the closest
// candidate.
type MatchError struct {
	Closest *Path
	Missing []string
	Extra   []string
}

func (e *MatchError) Error() string {
	msg := ErrNoMatchingRule.Error()
	if e.Closest == nil {
		return msg
	}
	var details []string
	if len(e.Missing) > 0 {
		details = append(details, "missing "+strings.Join(e.Missing, ","))
	}
	if len(e.Extra) > 0 {
		details = append(details, "unexpected "+strings.Join(e.Extra, ","))
	}
	return fmt.Sprintf("%s (closest %s: %s)", msg, e.Closest, strings.Join(details, "; "))
}

func (e *MatchError) Unwrap() error {
	return ErrNoMatchingRule
}

// Split is a key arranged along the levels of its matching path.
type Split struct {
	Path   *Path
	Levels []engine.Attrs
}

// Attrs flattens the split in path order.
func (sp *Split) Attrs() engine.Attrs {
	var out engine.Attrs
	for _, level := range sp.Levels {
		out = append(out, level...)
	}
	return out
}

// Match finds the first path whose keyword set equals the key's keywords.
func (s *Schema) Match(attrs engine.Attrs) (*Split, error) {
	keywords := make([]string, len(attrs))
	for i, a := range attrs {
		keywords[i] = a.Keyword
	}
	p, ok := s.Exact(keywords)
	if !ok {
		return nil, s.mismatch(keywords)
	}
	sp := &Split{Path: p, Levels: make([]engine.Attrs, len(p.Levels))}
	for i, level := range p.Levels {
		sp.Levels[i] = make(engine.Attrs, len(level))
		for j, kw := range level {
			v, _ := attrs.Lookup(kw)
			sp.Levels[i][j] = engine.Attr{Keyword: kw, Value: v}
		}
	}
	return sp, nil
}

func (s *Schema) mismatch(keywords []string) error {
	given := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		given[kw] = true
	}

	best := &MatchError{}
	bestScore := -1
	for _, p := range s.paths {
		var missing, extra []string
		for _, kw := range p.keywords {
			if !given[kw] {
				missing = append(missing, kw)
			}
		}
		for _, kw := range keywords {
			if !p.Has(kw) {
				extra = append(extra, kw)
			}
		}
		score := len(p.keywords) - len(missing) - len(extra)
		if score > bestScore {
			bestScore = score
			best = &MatchError{Closest: p, Missing: missing, Extra: extra}
		}
	}
	sort.Strings(best.Missing)
	sort.Strings(best.Extra)
	return best
}

// Exact returns the first path whose keyword set equals keywords.
func (s *Schema) Exact(keywords []string) (*Path, bool) {
	for _, p := range s.paths {
		if p.equalSet(keywords) {
			return p, true
		}
	}
	return nil, false
}

// Compatible returns the paths containing every keyword in keywords.
func (s *Schema) Compatible(keywords []string) []*Path {
	var out []*Path
	for _, p := range s.paths {
		ok := true
		for _, kw := range keywords {
			if !p.Has(kw) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// String renders the rule tree in bracket notation.
func (s *Schema) String() string {
	var b strings.Builder
	for i, r := range s.rules {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeRule(&b, r, 0)
	}
	return b.String()
}

func writeRule(b *strings.Builder, r *Rule, depth int) {
	b.WriteString(strings.Repeat("    ", depth))
	b.WriteString("[ ")
	b.WriteString(strings.Join(r.Keywords, ", "))
	if len(r.Children) == 0 {
		b.WriteString(" ]")
		return
	}
	for _, child := range r.Children {
		b.WriteByte('\n')
		writeRule(b, child, depth+1)
	}
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("    ", depth))
	b.WriteString("]")
}
