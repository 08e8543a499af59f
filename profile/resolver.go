package profile

import (
	"fmt"

	"github.com/dispatchfabric/fabric/core"
)

// ErrDuplicateRoute is returned by BuildDispatchTable when two registrations
// claim the same payload_tag within one profile — a startup configuration
// error, as core.DispatchTable's doc states, and per §9's Open Question on
// duplicate registration.
var ErrDuplicateRoute = fmt.Errorf("profile: duplicate route registration")

// Route is one (payload_tag -> handler) binding considered when assembling a
// profile's DispatchTable from a set of handler registrations.
type Route struct {
	Tag     string
	Handler string
}

// BuildDispatchTable assembles a DispatchTable from routes, rejecting a
// second registration for a tag already bound. Because of that check, a
// table built here holds exactly one handler per tag, so Resolve's
// first-handler rule never has to choose between two.
func BuildDispatchTable(routes []Route) (core.DispatchTable, error) {
	dt := core.DispatchTable{}
	for _, r := range routes {
		if existing, ok := dt[r.Tag]; ok && len(existing) > 0 {
			return nil, fmt.Errorf("%w: payload_tag %q already routes to %q, cannot also bind %q",
				ErrDuplicateRoute, r.Tag, existing[0], r.Handler)
		}
		dt[r.Tag] = []string{r.Handler}
	}
	return dt, nil
}

// Resolver is the pipeline's single source of structural security
// (SPEC_FULL.md §4.2): an immutable map from profile name to Profile,
// constructed once from the organism configuration and consulted on every
// dispatch. Closed-world: there is no wildcard profile and no fallback
// route, matching the resolver-level divergence from
// original_source/src/organism/profile.rs's `allow_all` (see DESIGN.md).
type Resolver struct {
	profiles map[string]core.Profile
}

// New builds a Resolver from a fixed set of profiles, failing if any two
// share a name.
func New(profiles ...core.Profile) (*Resolver, error) {
	m := make(map[string]core.Profile, len(profiles))
	for _, p := range profiles {
		if _, exists := m[p.Name]; exists {
			return nil, fmt.Errorf("profile: duplicate profile name %q", p.Name)
		}
		m[p.Name] = p
	}
	return &Resolver{profiles: m}, nil
}

var _ core.ProfileResolver = (*Resolver)(nil)

// Resolve looks up the handler bound to tag under profile. ok is false, with
// no error, when the tag has no route — the caller (the dispatch engine)
// turns that into a structural RouteNotFound rejection, not an exception.
func (r *Resolver) Resolve(profileName, tag string) (string, bool, error) {
	p, ok := r.profiles[profileName]
	if !ok {
		return "", false, core.NewError(core.UnknownProfile, "profile %q not found", profileName)
	}
	handlers := p.DispatchTable[tag]
	if len(handlers) == 0 {
		return "", false, nil
	}
	return handlers[0], true, nil
}

// IsPermitted reports whether handler is reachable anywhere in profile's
// dispatch table, used by the Semantic Router's Mask stage.
func (r *Resolver) IsPermitted(profileName, handler string) (bool, error) {
	p, ok := r.profiles[profileName]
	if !ok {
		return false, core.NewError(core.UnknownProfile, "profile %q not found", profileName)
	}
	_, permitted := p.DispatchTable.HandlerSet()[handler]
	return permitted, nil
}

// Retention returns the journal retention policy bound to profile.
func (r *Resolver) Retention(profileName string) (core.RetentionPolicy, error) {
	p, ok := r.profiles[profileName]
	if !ok {
		return core.RetentionPolicy{}, core.NewError(core.UnknownProfile, "profile %q not found", profileName)
	}
	return p.JournalRetention, nil
}

// Profile returns the full Profile definition by name.
func (r *Resolver) Profile(name string) (core.Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return core.Profile{}, core.NewError(core.UnknownProfile, "profile %q not found", name)
	}
	return p, nil
}
