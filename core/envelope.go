package core

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// threadComponentRE matches a single dot-separated thread-id component, per
// SPEC_FULL.md §6 "Thread-ID wire format".
var threadComponentRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RootThreadComponent is the literal root component of every thread-id path.
const RootThreadComponent = "root"

// Envelope is the atomic, immutable unit of the dispatch fabric. Once
// constructed it must not be mutated; every re-entry (§4.1 stage 7) produces
// a new Envelope value rather than editing one in place.
type Envelope struct {
	ID         string // correlation id, assigned at construction
	Namespace  string // schema family URI
	PayloadTag string // discriminator selecting a request/response schema
	Payload    []byte // opaque bytes; never inspected outside the owning handler/validator
	Sender     string
	ThreadID   string
	Profile    string
}

// NewEnvelope constructs an Envelope with a fresh correlation id.
func NewEnvelope(namespace, payloadTag string, payload []byte, sender, threadID, profile string) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Namespace:  namespace,
		PayloadTag: payloadTag,
		Payload:    payload,
		Sender:     sender,
		ThreadID:   threadID,
		Profile:    profile,
	}
}

// Validate performs stage-1 structural validation: every field must be
// present and well-formed. It does not touch payload schema (stage 2) or
// security (stage 3).
func (e Envelope) Validate() error {
	if e.Namespace == "" {
		return NewError(MalformedEnvelope, "namespace is required").WithPath("namespace")
	}
	if e.PayloadTag == "" {
		return NewError(MalformedEnvelope, "payload_tag is required").WithPath("payload_tag")
	}
	if e.Sender == "" {
		return NewError(MalformedEnvelope, "sender is required").WithPath("sender")
	}
	if e.Profile == "" {
		return NewError(MalformedEnvelope, "profile is required").WithPath("profile")
	}
	if err := ValidateThreadID(e.ThreadID); err != nil {
		return err
	}
	return nil
}

// ValidateThreadID checks the dot-separated wire format: each component must
// match [A-Za-z0-9_-]+ and the path must begin with the literal "root".
func ValidateThreadID(id string) error {
	if id == "" {
		return NewError(MalformedEnvelope, "thread_id is required").WithPath("thread_id")
	}
	parts := strings.Split(id, ".")
	if parts[0] != RootThreadComponent {
		return NewError(MalformedEnvelope, "thread_id must begin with %q", RootThreadComponent).WithPath("thread_id")
	}
	for _, p := range parts {
		if !threadComponentRE.MatchString(p) {
			return NewError(MalformedEnvelope, "thread_id component %q is not well-formed", p).WithPath("thread_id")
		}
	}
	return nil
}

// ChildThreadID appends a new leaf component to a parent thread-id path.
func ChildThreadID(parent string) string {
	return parent + "." + uuid.NewString()
}
