// Package blob stores the full byte content backing Expanded and Folded
// Context Segments (SPEC_FULL.md §4.4, §6). It is a flat key/value surface
// keyed by segment id, intentionally narrower than the teacher's
// session-scoped ArtifactStore: the Kernel owns segment lifecycle and
// retention, blob.Store just holds bytes under a segment id.
package blob
