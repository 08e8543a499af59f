package core

// JournalDirection marks whether an entry records a message arriving at or
// leaving a handler.
type JournalDirection string

const (
	Inbound  JournalDirection = "Inbound"
	Outbound JournalDirection = "Outbound"
)

// JournalEntry is an append-only record of one dispatch event (§3, §4.5).
// Entries are never modified after append; retention policies delete whole
// entries, never edit them.
type JournalEntry struct {
	ID          uint64 // monotonic per-pipeline sequence, assigned by the Kernel
	Timestamp   int64  // unix nanos
	ThreadID    string
	Direction   JournalDirection
	Handler     string
	PayloadTag  string
	PayloadHash string // integrity digest of the payload bytes at write time
	Retention   RetentionPolicy

	// Delivered marks the entry consumed for prune_on_delivery purposes. For
	// a Broadcast group, every sibling entry is marked together once all
	// targets have a matching Inbound entry (§3.1, §4.5).
	Delivered bool

	// Flagged marks an entry recording a handler output the engine rejected
	// (Flag holds the error kind). An oversized fold summary is not
	// journaled: the Context Store flags it in the fold's WAL record and logs
	// a warning.
	Flagged bool
	Flag    string
}
