package kernel

import (
	"encoding/json"
	"fmt"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/wal"
)

// Internal WAL payload shapes. Plain encoding/json is used here rather than a
// third-party serializer: these payloads never leave the process (they are
// the Kernel's own durability format, not a wire protocol other components
// consume), gjson/sjson are structural-probe/patch tools rather than
// marshalers, and no full-struct serialization library appears anywhere in
// the retrieved corpus — see DESIGN.md.

type spawnPayload struct {
	ThreadID string      `json:"thread_id"`
	Parent   string      `json:"parent"`
	Profile  core.Profile `json:"profile"`
}

type returnPayload struct {
	ThreadID string `json:"thread_id"`
}

type failPayload struct {
	ThreadID string `json:"thread_id"`
	Cause    string `json:"cause"`
}

type incrementIterationPayload struct {
	ThreadID string `json:"thread_id"`
}

type contextAppendPayload struct {
	SegmentID     string                  `json:"segment_id"`
	ThreadID      string                  `json:"thread_id"`
	ContentType   core.SegmentContentType `json:"content_type"`
	Content       []byte                  `json:"content"`
	TokenEstimate int                     `json:"token_estimate"`
}

type contextFoldPayload struct {
	SegmentID string `json:"segment_id"`
	Summary   []byte `json:"summary"`
	Flagged   bool   `json:"flagged"`
}

type contextUnfoldPayload struct {
	SegmentID string `json:"segment_id"`
}

type contextEvictPayload struct {
	SegmentID string `json:"segment_id"`
}

type contextSetRelevancePayload struct {
	SegmentID string  `json:"segment_id"`
	Relevance float64 `json:"relevance"`
}

type journalAppendPayload struct {
	Entry core.JournalEntry `json:"entry"`
}

type journalMarkDeliveredPayload struct {
	IDs []uint64 `json:"ids"`
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// payload shapes are fixed internal structs; a marshal failure here
		// means a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("kernel: failed to encode wal payload: %v", err))
	}
	return b
}

func decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("kernel: CorruptedWal: malformed %T payload: %w", v, err)
	}
	return v, nil
}

// pending is a not-yet-written WAL entry paired with its typed payload, the
// input shape wal.AppendBatch takes for several mutations behind one fsync.
// No Kernel method builds one: each Kernel mutation is its own WAL record.
type pending struct {
	entry wal.PendingEntry
}

func pendingEntry(kind wal.EntryType, payload any) pending {
	return pending{entry: wal.PendingEntry{Kind: kind, Payload: encode(payload)}}
}
