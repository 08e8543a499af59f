// Package dispatch implements the Envelope & Dispatch Engine (SPEC_FULL.md
// §4.1): the seven-stage submit(envelope) -> Acknowledgement pipeline that
// is the only path an envelope takes between the outside world, the Agent
// Loop, the Librarian, and any other handler.
//
// Grounded on engine.Engine's Invoke/processEvents shape (Config/Options
// functional-options construction, a registry guarded by RWMutex, an async
// channel-delivered result alongside a synchronous convenience wrapper),
// generalized from the teacher's single linear persist-then-forward pass
// into the explicit seven-stage reject-early pipeline SPEC_FULL.md §4.1
// requires.
package dispatch
