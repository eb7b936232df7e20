package gate

import "strings"

// Policy is the authorisation allow-list applied after verification.
type Policy struct {
	suffixes    []string
	identifiers map[string]struct{}
}

// NewPolicy builds a Policy. Domains match any identifier ending in
// "@<domain>"; identifiers must match exactly. Both are case-insensitive.
func NewPolicy(domains, identifiers []string) *Policy {
	p := &Policy{identifiers: make(map[string]struct{}, len(identifiers))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, "@")))
		if d != "" {
			p.suffixes = append(p.suffixes, "@"+d)
		}
	}
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			p.identifiers[id] = struct{}{}
		}
	}
	return p
}

// Allows reports whether identifier is on the allow-list.
func (p *Policy) Allows(identifier string) bool {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return false
	}
	if _, ok := p.identifiers[id]; ok {
		return true
	}
	for _, s := range p.suffixes {
		// "@graylogic.test" must not admit "x@evilgraylogic.test"; the
		// leading "@" anchors the domain, and a bare "@domain" has no user.
		if strings.HasSuffix(id, s) && len(id) > len(s) {
			return true
		}
	}
	return false
}
