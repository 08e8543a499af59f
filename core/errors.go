package core

import "fmt"

// ErrorKind enumerates the structured failure kinds a submission can surface.
// Every user-visible failure in the fabric is reported as one of these, never
// as an ad-hoc string.
type ErrorKind string

const (
	MalformedEnvelope       ErrorKind = "MalformedEnvelope"
	SchemaViolation         ErrorKind = "SchemaViolation"
	RouteNotFound           ErrorKind = "RouteNotFound"
	UnknownThread           ErrorKind = "UnknownThread"
	UnknownProfile          ErrorKind = "UnknownProfile"
	ResponseSchemaViolation ErrorKind = "ResponseSchemaViolation"
	PrivilegeEscalation     ErrorKind = "PrivilegeEscalation"
	PayloadTooLarge         ErrorKind = "PayloadTooLarge"
	Timeout                 ErrorKind = "Timeout"
	IterationCapExceeded    ErrorKind = "IterationCapExceeded"
	FormFillFailed          ErrorKind = "FormFillFailed"
	NoCapability            ErrorKind = "NoCapability"
	CorruptedWal            ErrorKind = "CorruptedWal"
	CheckpointInconsistent  ErrorKind = "CheckpointInconsistent"
)

// FabricError is the single structured error type surfaced by the fabric.
// It always carries a Kind, a human-readable Message, and an optional Path
// pinpointing the offending field or byte range.
type FabricError struct {
	Kind    ErrorKind
	Message string
	Path    string

	// Handler records the producing handler's name for errors raised while
	// classifying or validating a handler's response (stage 5/6).
	Handler string
}

func (e *FabricError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is enables errors.Is(err, &FabricError{Kind: X}) comparisons by Kind alone.
func (e *FabricError) Is(target error) bool {
	t, ok := target.(*FabricError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs a FabricError with the given kind and formatted message.
func NewError(kind ErrorKind, format string, args ...any) *FabricError {
	return &FabricError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of the error with Path set.
func (e *FabricError) WithPath(path string) *FabricError {
	c := *e
	c.Path = path
	return &c
}

// WithHandler returns a copy of the error with Handler set.
func (e *FabricError) WithHandler(name string) *FabricError {
	c := *e
	c.Handler = name
	return &c
}
