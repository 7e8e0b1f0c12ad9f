package dasi

import (
	"context"
	"iter"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/pkg/engine"
)

// Policy is the state of one named access switch of a dataset.
type Policy = engine.Policy

// Policy names accepted by Session.Policy and Session.SetPolicy.
// PolicyAccess selects every access switch and only works for queries.
const (
	PolicyAccess         = engine.PolicyAccess
	PolicyAccessRetrieve = engine.PolicyAccessRetrieve
	PolicyAccessArchive  = engine.PolicyAccessArchive
	PolicyAccessList     = engine.PolicyAccessList
	PolicyAccessWipe     = engine.PolicyAccessWipe
)

// PolicyItem holds the selected policies of one dataset. Key is the first
// level of the keys stored in it.
type PolicyItem struct {
	Key      *Key
	Policies []Policy
}

// Enabled reports the state of the named policy and whether it was selected.
func (p PolicyItem) Enabled(name string) (enabled, ok bool) {
	for _, policy := range p.Policies {
		if policy.Name == name {
			return policy.Enabled, true
		}
	}
	return false, false
}

// PolicyIterator streams the results of Session.Policy and
// Session.SetPolicy.
type PolicyIterator struct {
	it *iterator[*engine.PolicyEntry, PolicyItem]
}

func newPolicyIterator(s *Session, op string, cur engine.PolicyCursor) *PolicyIterator {
	return &PolicyIterator{it: newIterator(s, op, cursor[*engine.PolicyEntry](cur), func(e *engine.PolicyEntry) PolicyItem {
		return PolicyItem{Key: keyFromAttrs(e.Key), Policies: append([]Policy(nil), e.Policies...)}
	})}
}

// Next advances to the next dataset. It returns false with a nil error once
// the results are exhausted.
func (pi *PolicyIterator) Next(ctx context.Context) (PolicyItem, bool, error) {
	return pi.it.next(ctx)
}

// All ranges over the remaining datasets and closes the iterator when the
// loop ends.
func (pi *PolicyIterator) All(ctx context.Context) iter.Seq2[PolicyItem, error] {
	return pi.it.all(ctx)
}

// Close releases the engine cursor and makes policy changes durable.
func (pi *PolicyIterator) Close() error {
	return pi.it.close()
}

// Policy reports the policies named by name for every dataset matching
// query. An empty name selects every policy.
func (s *Session) Policy(ctx context.Context, query *Query, name string) (*PolicyIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.conn.Policy(ctx, query.request(), name)
	if err != nil {
		return nil, translate("policy", err)
	}
	return newPolicyIterator(s, "policy", cur), nil
}

// SetPolicy switches one fully named policy for every dataset matching
// query. Each dataset is updated as the iterator reaches it.
func (s *Session) SetPolicy(ctx context.Context, query *Query, name string, enabled bool) (*PolicyIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.conn.SetPolicy(ctx, query.request(), name, enabled)
	if err != nil {
		return nil, translate("set policy", err)
	}
	s.logger.WithFields(logrus.Fields{
		"query":   query.String(),
		"policy":  name,
		"enabled": enabled,
	}).Info("Policy change started")
	return newPolicyIterator(s, "set policy", cur), nil
}
