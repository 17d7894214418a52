package messenger

import "strings"

// Wildcard allows any origin. It has to be configured explicitly.
const Wildcard = "*"

// OriginPolicy is the allow-list for inbound host messages. The zero value
// rejects everything.
type OriginPolicy struct {
	any     bool
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from origins such as
// "https://shop.example". Matching is case-insensitive and ignores a trailing
// slash.
func NewOriginPolicy(origins []string) OriginPolicy {
	p := OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = canonicalOrigin(o)
		switch o {
		case "":
		case Wildcard:
			p.any = true
		default:
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

// Allows reports whether a message from origin may be trusted.
func (p OriginPolicy) Allows(origin string) bool {
	if p.any {
		return true
	}
	_, ok := p.allowed[canonicalOrigin(origin)]
	return ok
}

// Permissive reports whether the policy accepts any origin.
func (p OriginPolicy) Permissive() bool {
	return p.any
}

func canonicalOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
