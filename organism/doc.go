// Package organism loads the pipeline's static configuration: listener
// (handler) registrations, named prompt blocks, and security profiles,
// parsed from a YAML document the way original_source/src/organism/mod.rs
// and parser.rs assemble an Organism from organism.yaml.
//
// This is a cmd/-level collaborator, not a core module (§1 names "a YAML
// organism loader" as out of the core's own dependency surface): nothing
// under core/, kernel/, dispatch/, profile/, router/, or agentloop/ imports
// this package. cmd/fabricd/ is the only caller, turning a parsed Organism
// into the core.Profile / core.HandlerRegistration values those packages
// actually consume.
//
// Unlike the original, a profile's "all" listener shorthand is expanded at
// load time into the literal, current set of registered listener names
// rather than carried forward as a runtime allow_all flag — this fabric's
// Profile Resolver is closed-world by construction (see profile/doc.go and
// DESIGN.md's Open Question resolutions); there is no wildcard at any
// layer beneath this loader.
package organism
