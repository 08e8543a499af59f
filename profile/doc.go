// Package profile implements the Profile/Dispatch-Table Resolver
// (SPEC_FULL.md §4.2): an immutable, closed-world mapping from profile name
// to the handler a payload_tag routes to under that profile.
//
// Grounded on original_source/src/organism/profile.rs's SecurityProfile /
// DispatchTable split, with the `allow_all` wildcard deliberately dropped
// (see DESIGN.md) since the spec mandates no fallback routing path.
package profile
