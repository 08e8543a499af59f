package core

import "context"

// ThreadTable is the Kernel's thread-lifecycle surface (§4.3).
type ThreadTable interface {
	Spawn(ctx context.Context, parentID string, requestedProfile Profile) (string, error)
	Return(ctx context.Context, threadID string) error
	Fail(ctx context.Context, threadID string, cause error) error
	Get(threadID string) (Thread, bool)
	Walk(rootID string, visit func(Thread) bool) error
	IncrementIteration(ctx context.Context, threadID string) (int, error)
}

// ContextStore is the Librarian's mechanism surface (§4.4). Policy (when to
// fold/evict) lives in an external curator collaborator; the store only
// enforces the mechanism invariants.
type ContextStore interface {
	Append(ctx context.Context, threadID string, content []byte, contentType SegmentContentType) (string, error)
	GetView(threadID string) ([]View, error)
	Fold(ctx context.Context, segmentID string, summary []byte) error
	Unfold(ctx context.Context, segmentID string) error
	Evict(ctx context.Context, segmentID string) error
	SetRelevance(ctx context.Context, segmentID string, score float64) error
	Budget(threadID string) (currentTokens, limit int, err error)
}

// Journal is the append-only log surface (§4.5).
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	Scan(from uint64, filter func(JournalEntry) bool) ([]JournalEntry, error)
	Prune(ctx context.Context, policy RetentionPolicy) (int, error)
}

// ProfileResolver is the closed-world security surface (§4.2).
type ProfileResolver interface {
	Resolve(profile, tag string) (handler string, ok bool, err error)
	IsPermitted(profile, handler string) (bool, error)
	Retention(profile string) (RetentionPolicy, error)
	Profile(name string) (Profile, error)
}

// SchemaValidator is the schema-validation collaborator (§6). Concrete
// format is opaque to the core; the chosen implementation MUST be
// deterministic and version-pinned.
type SchemaValidator interface {
	Validate(schemaRef SchemaRef, payload []byte) error
}

// Embedder is the embedding-provider collaborator (§6, §4.7 Rank).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// FormFiller is the form-filler collaborator (§6, §4.7 Fill).
type FormFiller interface {
	Fill(ctx context.Context, schemaRef SchemaRef, naturalLanguage string) ([]byte, error)
}
