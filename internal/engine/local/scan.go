package local

import (
	"context"

	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/schema"
	"github.com/maxiofs/dasi/pkg/engine"
)

// scanPlan is one catalogue prefix to walk for one schema path
type scanPlan struct {
	path   *schema.Path
	prefix string
}

// scan walks the catalogue records matching a request, one page at a
// time. Levels of a path fully given by the request narrow the walk to a
// key prefix per candidate combination; the rest is filtered record by
// record.
type scan struct {
	conn   *conn
	req    engine.Request
	plans  []scanPlan
	next   int
	filter string // policy a record's dataset must enable, if any
	access map[string]metadata.Access

	current scanPlan
	page    []metadata.Entry
	pos     int
	after   string
	more    bool
}

func (c *conn) newScan(paths []*schema.Path, req engine.Request) *scan {
	s := &scan{conn: c, req: req.Clone(), access: make(map[string]metadata.Access)}
	for _, p := range paths {
		s.plans = append(s.plans, planPath(p, req)...)
	}
	return s
}

func planPath(p *schema.Path, req engine.Request) []scanPlan {
	depth := 0
	for _, level := range p.Levels {
		complete := true
		for _, kw := range level {
			if _, ok := req.Lookup(kw); !ok {
				complete = false
				break
			}
		}
		if !complete {
			break
		}
		depth++
	}

	var sets [][]string
	for _, level := range p.Levels[:depth] {
		for _, kw := range level {
			values, _ := req.Lookup(kw)
			sets = append(sets, unique(values))
		}
	}

	var plans []scanPlan
	prod := schema.NewProduct(sets)
	for prod.Next() {
		plans = append(plans, scanPlan{
			path:   p,
			prefix: metadata.ObjectPrefix(levelAttrs(p.Levels[:depth], prod.Values())...),
		})
	}
	return plans
}

// levelAttrs pairs the keywords of levels, in order, with values
func levelAttrs(levels [][]string, values []string) []engine.Attrs {
	out := make([]engine.Attrs, len(levels))
	i := 0
	for l, level := range levels {
		out[l] = make(engine.Attrs, len(level))
		for j, kw := range level {
			out[l][j] = engine.Attr{Keyword: kw, Value: values[i]}
			i++
		}
	}
	return out
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Next returns the next matching record or engine.ErrIteratorEnd.
func (s *scan) Next(ctx context.Context) (*metadata.Entry, error) {
	for {
		if s.pos < len(s.page) {
			e := s.page[s.pos]
			s.pos++
			if !s.matches(e.Record) {
				continue
			}
			if s.filter != "" {
				_, _, access, err := s.dataset(ctx, e.Record)
				if err != nil {
					return nil, err
				}
				if !allows(access, s.filter) {
					continue
				}
			}
			return &e, nil
		}

		if s.more {
			if err := ctx.Err(); err != nil {
				return nil, classify(err)
			}
			page, err := s.conn.cat.Scan(ctx, s.current.prefix, s.after, s.conn.pageSize)
			if err != nil {
				return nil, catalogueError(err)
			}
			s.page, s.pos = page, 0
			s.more = len(page) == s.conn.pageSize
			if len(page) > 0 {
				s.after = page[len(page)-1].Key
			}
			continue
		}

		if s.next >= len(s.plans) {
			s.page = nil
			return nil, engine.ErrIteratorEnd
		}
		s.current = s.plans[s.next]
		s.next++
		s.page, s.pos, s.after, s.more = nil, 0, "", true
	}
}

// matches reports whether rec belongs to the plan's path and satisfies
// every term of the request
func (s *scan) matches(rec *metadata.ObjectRecord) bool {
	attrs := rec.Attrs()
	keywords := make([]string, len(attrs))
	for i, a := range attrs {
		keywords[i] = a.Keyword
	}
	if p, ok := s.conn.schema.Exact(keywords); !ok || p != s.current.path {
		return false
	}

	for _, term := range s.req {
		value, ok := attrs.Lookup(term.Keyword)
		if !ok {
			return false
		}
		found := false
		for _, candidate := range term.Values {
			if candidate == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// dataset returns the catalogue key, first-level key and access switches
// of the dataset a matched record belongs to
func (s *scan) dataset(ctx context.Context, rec *metadata.ObjectRecord) (string, engine.Attrs, metadata.Access, error) {
	attrs := rec.Attrs()
	level := s.current.path.Levels[0]
	level0 := make(engine.Attrs, len(level))
	for i, kw := range level {
		value, _ := attrs.Lookup(kw)
		level0[i] = engine.Attr{Keyword: kw, Value: value}
	}

	key := metadata.DatasetKey(level0)
	if access, ok := s.access[key]; ok {
		return key, level0, access, nil
	}
	access, err := s.conn.cat.DatasetAccess(ctx, key)
	if err != nil {
		return "", nil, metadata.Access{}, catalogueError(err)
	}
	s.access[key] = access
	return key, level0, access, nil
}

func (s *scan) release() {
	s.page = nil
	s.plans = nil
	s.access = nil
}
