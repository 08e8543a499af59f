package agentloop

// IterationLimiter enforces §4.8's bounded-iteration invariant: an agent
// thread with max_iterations = K invokes inference at most K times before
// the loop fails the thread closed. Adapted from the teacher's
// core.ModelLimiter (since removed from core/ — the fabric's iteration cap
// is a per-thread count tracked by the Kernel's ThreadTable, not a
// per-model budget), reduced to the single comparison the Agent Loop needs.
type IterationLimiter struct {
	Max int
}

// Exceeded reports whether count is greater than Max. Max <= 0 means
// unbounded.
func (l IterationLimiter) Exceeded(count int) bool {
	return l.Max > 0 && count > l.Max
}
