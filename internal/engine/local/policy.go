package local

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/pkg/engine"
)

// accessPolicies lists the access switches in reporting order
var accessPolicies = []string{
	engine.PolicyAccessRetrieve,
	engine.PolicyAccessArchive,
	engine.PolicyAccessList,
	engine.PolicyAccessWipe,
}

// selectPolicies resolves a policy name to the switches it covers. An empty
// name or the group name covers all of them.
func selectPolicies(name string) ([]string, error) {
	if name == "" || name == engine.PolicyAccess {
		return accessPolicies, nil
	}
	if slices.Contains(accessPolicies, name) {
		return []string{name}, nil
	}
	return nil, engine.NewError(engine.StatusError, engine.CodeInvalidPolicy, fmt.Sprintf("unknown policy %q", name))
}

func accessSwitch(a *metadata.Access, name string) *bool {
	switch name {
	case engine.PolicyAccessRetrieve:
		return &a.Retrieve
	case engine.PolicyAccessArchive:
		return &a.Archive
	case engine.PolicyAccessList:
		return &a.List
	case engine.PolicyAccessWipe:
		return &a.Wipe
	}
	return nil
}

func allows(a metadata.Access, name string) bool {
	p := accessSwitch(&a, name)
	return p == nil || *p
}

func errAccessDenied(name string, level0 engine.Attrs) error {
	return engine.NewError(engine.StatusError, engine.CodeAccessDenied,
		fmt.Sprintf("%s is disabled for dataset %s", name, formatKey(level0)))
}

// permit fails when the dataset with first level level0 disables name
func (c *conn) permit(ctx context.Context, name string, level0 engine.Attrs) error {
	access, err := c.cat.DatasetAccess(ctx, metadata.DatasetKey(level0))
	if err != nil {
		return catalogueError(err)
	}
	if !allows(access, name) {
		return errAccessDenied(name, level0)
	}
	return nil
}

func (c *conn) Policy(ctx context.Context, req engine.Request, name string) (engine.PolicyCursor, error) {
	start := time.Now()
	cur, err := c.newPolicyCursor(ctx, req, name)
	c.observe("policy", start, err)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// SetPolicy needs a single switch; the group name is rejected.
func (c *conn) SetPolicy(ctx context.Context, req engine.Request, name string, enabled bool) (engine.PolicyCursor, error) {
	start := time.Now()
	if accessSwitch(&metadata.Access{}, name) == nil {
		err := engine.NewError(engine.StatusError, engine.CodeInvalidPolicy,
			fmt.Sprintf("policy %q is not fully specified", name))
		c.observe("set_policy", start, err)
		return nil, err
	}
	cur, err := c.newPolicyCursor(ctx, req, name)
	c.observe("set_policy", start, err)
	if err != nil {
		return nil, err
	}
	cur.set = true
	cur.enabled = enabled
	return cur, nil
}

func (c *conn) newPolicyCursor(ctx context.Context, req engine.Request, name string) (*policyCursor, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	names, err := selectPolicies(name)
	if err != nil {
		return nil, err
	}
	return &policyCursor{conn: c, req: req.Clone(), names: names, more: true}, nil
}

// policyCursor walks the dataset records one page at a time. In set mode
// every yielded dataset has been updated before it is returned.
type policyCursor struct {
	conn    *conn
	req     engine.Request
	names   []string
	set     bool
	enabled bool

	page    []metadata.DatasetEntry
	pos     int
	after   string
	more    bool
	changed int
	closed  bool
}

func (pc *policyCursor) Next(ctx context.Context) (*engine.PolicyEntry, error) {
	if pc.closed {
		return nil, errCursorClosed()
	}
	if err := pc.conn.check(ctx); err != nil {
		return nil, err
	}

	for {
		if pc.pos < len(pc.page) {
			e := pc.page[pc.pos]
			pc.pos++
			if !datasetMatches(pc.req, e.Record.Attrs()) {
				continue
			}
			rec, err := pc.apply(ctx, e)
			if err != nil {
				return nil, err
			}
			return pc.entry(rec), nil
		}

		if !pc.more {
			pc.page = nil
			return nil, engine.ErrIteratorEnd
		}
		page, err := pc.conn.cat.Datasets(ctx, pc.after, pc.conn.pageSize)
		if err != nil {
			return nil, catalogueError(err)
		}
		pc.page, pc.pos = page, 0
		pc.more = len(page) == pc.conn.pageSize
		if len(page) > 0 {
			pc.after = page[len(page)-1].Key
		}
	}
}

func (pc *policyCursor) apply(ctx context.Context, e metadata.DatasetEntry) (*metadata.DatasetRecord, error) {
	if !pc.set {
		return e.Record, nil
	}
	name := pc.names[0]
	rec, changed, err := pc.conn.cat.UpdateAccess(ctx, e.Key, func(a *metadata.Access) {
		*accessSwitch(a, name) = pc.enabled
	})
	if errors.Is(err, metadata.ErrDatasetNotFound) {
		return e.Record, nil
	}
	if err != nil {
		return nil, catalogueError(err)
	}
	if changed {
		pc.changed++
		pc.conn.logger.WithFields(logrus.Fields{
			"operation": "set_policy",
			"dataset":   formatKey(rec.Attrs()),
			"policy":    name,
			"enabled":   pc.enabled,
		}).Debug("Changed dataset policy")
	}
	return rec, nil
}

func (pc *policyCursor) entry(rec *metadata.DatasetRecord) *engine.PolicyEntry {
	out := &engine.PolicyEntry{Key: rec.Attrs(), Policies: make([]engine.Policy, len(pc.names))}
	for i, name := range pc.names {
		out.Policies[i] = engine.Policy{Name: name, Enabled: allows(rec.Access, name)}
	}
	return out
}

// Close makes policy changes durable
func (pc *policyCursor) Close() error {
	if pc.closed {
		return nil
	}
	pc.closed = true
	pc.page = nil
	if pc.changed > 0 && !pc.conn.closed.Load() {
		if err := pc.conn.cat.Flush(); err != nil {
			return catalogueError(err)
		}
	}
	return nil
}

// datasetMatches reports whether a dataset key satisfies the request. Terms
// on keywords the key lacks are ignored, but a non-empty request must name
// at least one keyword of the key.
func datasetMatches(req engine.Request, level0 engine.Attrs) bool {
	shared := false
	for _, term := range req {
		value, ok := level0.Lookup(term.Keyword)
		if !ok {
			continue
		}
		if !slices.Contains(term.Values, value) {
			return false
		}
		shared = true
	}
	return shared || len(req) == 0
}

var _ engine.PolicyCursor = (*policyCursor)(nil)
