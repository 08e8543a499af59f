package dispatch

// Config tunes the engine's resource and re-entry behavior.
type Config struct {
	// MaxResponseBytes bounds a single handler output before re-entry;
	// larger outputs are rejected with PayloadTooLarge (§4.1 edge cases).
	MaxResponseBytes int
	// MaxReentryDepth bounds how many times a chain of Reply/Send/Broadcast
	// outputs may re-enter the pipeline before the engine gives up and fails
	// the chain closed rather than looping forever. Not part of the spec's
	// vocabulary directly, but required by any concrete implementation of
	// "re-entry" that must terminate.
	MaxReentryDepth int
}

// DefaultConfig mirrors engine.DefaultConfig's convention of safe-by-default values.
var DefaultConfig = Config{
	MaxResponseBytes: 4 * 1024 * 1024,
	MaxReentryDepth:  32,
}
