package guard

import (
	"path"
	"strings"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// Class is the classification of a route.
type Class int

const (
	Protected Class = iota
	Public
)

func (c Class) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// Routes is the fixed set of paths reachable without a session. Everything
// else is protected. The login entry point is always public.
type Routes struct {
	login  string
	public map[string]struct{}
}

// NewRoutes builds a Routes. An empty login falls back to the default login
// path; a nil public list falls back to the default public set.
func NewRoutes(login string, public []string) Routes {
	if login == "" {
		login = domain.DefaultLoginPath
	}
	if public == nil {
		public = domain.DefaultPublicPaths
	}

	r := Routes{
		login:  normalize(login),
		public: make(map[string]struct{}, len(public)+1),
	}
	for _, p := range public {
		r.public[normalize(p)] = struct{}{}
	}
	r.public[r.login] = struct{}{}
	return r
}

// Classify reports whether p is public. Matching is exact after cleaning, so
// "/login/" and "/login?next=x" classify like "/login".
func (r Routes) Classify(p string) Class {
	if _, ok := r.public[normalize(p)]; ok {
		return Public
	}
	return Protected
}

// IsPublic is shorthand for Classify(p) == Public.
func (r Routes) IsPublic(p string) bool {
	return r.Classify(p) == Public
}

// LoginPath is the redirect target for unauthenticated access.
func (r Routes) LoginPath() string {
	return r.login
}

func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
