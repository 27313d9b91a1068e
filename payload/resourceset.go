package payload

import (
	"sort"
	"strings"
)

// ResourceSet is a set of resource descriptors (AS numbers or IP prefixes) as carried in
// resource_set_as/ipv4/ipv6 and req_resource_set_as/ipv4/ipv6 attributes. The zero value is the empty set,
// which is emitted as an absent attribute, never as an empty string.
type ResourceSet []string

// NewResourceSet builds a ResourceSet from individual items, sorted lexicographically per the canonical
// emission rule. Duplicate items are kept as given -- the protocol does not define set semantics beyond
// "comma separated, sorted", and silently deduplicating would be a behavior the distilled spec never asks
// for.
func NewResourceSet(items ...string) ResourceSet {
	if len(items) == 0 {
		return nil
	}
	out := make(ResourceSet, len(items))
	copy(out, items)
	sort.Strings(out)
	return out
}

// ParseResourceSet splits a comma-separated attribute value into a ResourceSet. An empty string yields a
// nil (empty) set.
func ParseResourceSet(s string) ResourceSet {
	if s == "" {
		return nil
	}
	return ResourceSet(strings.Split(s, ","))
}

// String renders the set as a sorted, comma-separated, whitespace-free string. Empty sets render as "".
func (r ResourceSet) String() string {
	if len(r) == 0 {
		return ""
	}
	sorted := make([]string, len(r))
	copy(sorted, r)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
