package policy

import (
	"strings"

	"github.com/gzhole/gameblocker/internal/normalize"
)

// Resolver classifies hostnames against an allow list and a
// block-immediately list. It is read-only after construction and safe for
// concurrent use.
type Resolver struct {
	allow     []string
	allowSet  map[string]struct{}
	immediate map[string]struct{}
}

// NewResolver builds a resolver from the given lists. Entries are used as
// given; callers are expected to have normalized them.
func NewResolver(lists Lists) *Resolver {
	r := &Resolver{
		allow:     make([]string, 0, len(lists.Allow)),
		allowSet:  make(map[string]struct{}, len(lists.Allow)),
		immediate: make(map[string]struct{}, len(lists.BlockImmediately)),
	}
	for _, d := range lists.Allow {
		if d == "" {
			continue
		}
		r.allow = append(r.allow, d)
		r.allowSet[d] = struct{}{}
	}
	for _, d := range lists.BlockImmediately {
		if d == "" {
			continue
		}
		r.immediate[d] = struct{}{}
	}
	return r
}

// Classify resolves domain. The block-immediately list is consulted first
// and wins even when the host is also allow-listed.
func (r *Resolver) Classify(domain string) Classification {
	if r.IsImmediate(domain) {
		return Immediate
	}
	if r.IsAllowed(domain) {
		return Allowed
	}
	return Unclassified
}

// ClassifyHost normalizes a raw hostname before classifying it. A host that
// cannot be normalized is reported as an error and left unclassified.
func (r *Resolver) ClassifyHost(raw string) (Classification, string, error) {
	host, err := normalize.Host(raw)
	if err != nil {
		return Unclassified, "", err
	}
	return r.Classify(host), host, nil
}

// ClassifyURL extracts and normalizes the hostname of rawURL before
// classifying it.
func (r *Resolver) ClassifyURL(rawURL string) (Classification, string, error) {
	host, err := normalize.HostFromURL(rawURL)
	if err != nil {
		return Unclassified, "", err
	}
	return r.Classify(host), host, nil
}

// IsImmediate reports an exact match on the block-immediately list.
// Subdomains of a listed host are not matched.
func (r *Resolver) IsImmediate(domain string) bool {
	_, ok := r.immediate[domain]
	return ok
}

// IsAllowed reports whether domain equals an allow-list entry or is a
// subdomain of one.
func (r *Resolver) IsAllowed(domain string) bool {
	if domain == "" {
		return false
	}
	if _, ok := r.allowSet[domain]; ok {
		return true
	}
	for _, entry := range r.allow {
		if strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}
