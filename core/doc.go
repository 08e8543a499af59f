// Package core provides the foundational domain types shared across the
// dispatch fabric: the Envelope wire unit, structured error kinds, the
// Handler/Profile/Registration contracts, and the Thread/Segment/Journal
// record shapes the Kernel persists. It intentionally keeps implementation
// concerns (WAL framing, dispatch staging, schema validation) out of scope,
// exposing small interfaces so kernel/, dispatch/, profile/, schema/ and
// router/ can depend on a common vocabulary without importing each other.
package core
