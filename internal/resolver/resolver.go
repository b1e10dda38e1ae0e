// Package resolver maps an incoming query id to a storage backend and
// resolved object key, through an ordered chain of regex + allow-guard
// rules — the generalization of the teacher's single bucket whitelist
// (api.Server.Whitelist) into a first-match-wins rule chain.
package resolver

import (
	"regexp"

	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/storage"
)

// Resolver matches a query id against Regex and, if it also passes Guard,
// rewrites the id into a storage key using Substitution (a regexp
// replacement template, e.g. "$1").
type Resolver struct {
	Name         string
	Regex        *regexp.Regexp
	Substitution string
	Backend      storage.Backend
	Guard        AllowGuard
}

// New builds a Resolver, compiling pattern. A zero-value Guard matches
// everything; use DefaultAllowGuard for the common "allow anything" shape.
func New(name, pattern, substitution string, backend storage.Backend, guard AllowGuard) (*Resolver, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		Name:         name,
		Regex:        re,
		Substitution: substitution,
		Backend:      backend,
		Guard:        guard,
	}, nil
}

// ResolveID reports the storage key for q's id if both the regex and the
// allow guard match, and whether a match occurred at all.
func (r *Resolver) ResolveID(q *query.Query) (string, bool) {
	if !r.Regex.MatchString(q.ID) {
		return "", false
	}
	if !r.Guard.Allowed(q) {
		return "", false
	}
	return r.Regex.ReplaceAllString(q.ID, r.Substitution), true
}

// Chain is an ordered list of resolvers tried in sequence; the first one
// whose regex and allow guard both match wins.
type Chain []*Resolver

// Resolve walks the chain in order and returns the first match.
func (c Chain) Resolve(q *query.Query) (backend storage.Backend, key string, matched bool) {
	for _, r := range c {
		if key, ok := r.ResolveID(q); ok {
			return r.Backend, key, true
		}
	}
	return nil, "", false
}
