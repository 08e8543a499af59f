package core

// SegmentStatus is the tier a Context Segment currently occupies (§4.4).
// Transitions only swap which slot feeds the live view; full content is
// never deleted while the segment exists.
type SegmentStatus string

const (
	SegmentExpanded SegmentStatus = "Expanded"
	SegmentFolded   SegmentStatus = "Folded"
	SegmentEvicted  SegmentStatus = "Evicted"
)

// SegmentContentType classifies what kind of content a segment carries.
type SegmentContentType string

const (
	ContentMessage    SegmentContentType = "message"
	ContentCode       SegmentContentType = "code"
	ContentToolResult SegmentContentType = "tool_result"
	ContentSummary    SegmentContentType = "summary"
	ContentOther      SegmentContentType = "other"
)

// Segment is a unit of attention management owned by the Context Store
// (§3, §4.4). Full content always lives in durable blob storage keyed by
// ID; Status only determines what (if anything) the live view shows.
type Segment struct {
	ID            string
	ThreadID      string
	ContentType   SegmentContentType
	Status        SegmentStatus
	Relevance     float64
	ByteSize      int
	TokenEstimate int

	// Summary holds the Folded live-view text. Retained as metadata after
	// Unfold even though it stops feeding the live view (§4.4).
	Summary []byte
}

// View returns the live-view bytes for the current status plus whether a
// live view exists at all (false for Evicted).
type View struct {
	SegmentID string
	Bytes     []byte
	Present   bool
}
