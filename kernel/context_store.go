package kernel

import (
	"context"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/wal"
	"github.com/google/uuid"
)

// contextStore is the Kernel viewed through the core.ContextStore
// interface — the Librarian's mechanism surface (§4.4). It enforces only
// the store's own invariants: full content retained for the thread's life,
// every status change WAL-durable, and get_view linearizable with respect
// to fold/unfold/evict on the same thread (guaranteed here by holding
// kernel.mu across the read).
type contextStore Kernel

func (c *contextStore) k() *Kernel { return (*Kernel)(c) }

func (c *contextStore) Append(ctx context.Context, threadID string, content []byte, contentType core.SegmentContentType) (string, error) {
	k := c.k()

	if len(content) > k.cfg.MaxPayloadBytes {
		return "", core.NewError(core.PayloadTooLarge, "segment content exceeds %d bytes", k.cfg.MaxPayloadBytes)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.threads[threadID]; !ok {
		return "", core.NewError(core.UnknownThread, "thread %q not found", threadID)
	}

	segmentID := uuid.NewString()
	payload := contextAppendPayload{
		SegmentID:     segmentID,
		ThreadID:      threadID,
		ContentType:   contentType,
		Content:       content,
		TokenEstimate: estimateTokens(content),
	}

	if _, err := k.appendWAL(wal.EntryContextAppend, encode(payload)); err != nil {
		return "", err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryContextAppend, Payload: encode(payload)}); err != nil {
		return "", err
	}
	k.maybeCheckpoint(ctx)

	return segmentID, nil
}

// estimateTokens is a cheap, deterministic placeholder (~4 bytes/token),
// matching the coarse token_estimate accounting SPEC_FULL.md's budget
// mechanism needs without depending on a concrete tokenizer (an external
// collaborator's concern, not the store's).
func estimateTokens(content []byte) int {
	return (len(content) + 3) / 4
}

func (c *contextStore) GetView(threadID string) ([]core.View, error) {
	k := c.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	var views []core.View
	for _, id := range k.segmentOrder[threadID] {
		seg, ok := k.segments[id]
		if !ok {
			continue
		}
		switch seg.Status {
		case core.SegmentExpanded:
			b, err := k.blobs.Get(seg.ID)
			if err != nil {
				return nil, err
			}
			views = append(views, core.View{SegmentID: seg.ID, Bytes: b, Present: true})
		case core.SegmentFolded:
			views = append(views, core.View{SegmentID: seg.ID, Bytes: seg.Summary, Present: true})
		case core.SegmentEvicted:
			views = append(views, core.View{SegmentID: seg.ID, Present: false})
		}
	}
	return views, nil
}

func (c *contextStore) Fold(ctx context.Context, segmentID string, summary []byte) error {
	k := c.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	seg, ok := k.segments[segmentID]
	if !ok {
		return core.NewError(core.MalformedEnvelope, "segment %q not found", segmentID)
	}

	// Fold never rejects on content-quality grounds (§4.4 "Failure
	// semantics"); an oversized summary is merely flagged.
	flagged := len(summary) > seg.ByteSize

	payload := contextFoldPayload{SegmentID: segmentID, Summary: summary, Flagged: flagged}
	if _, err := k.appendWAL(wal.EntryContextFold, encode(payload)); err != nil {
		return err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryContextFold, Payload: encode(payload)}); err != nil {
		return err
	}
	k.maybeCheckpoint(ctx)

	if flagged {
		k.log.Warn("kernel.context.fold.oversized_summary", "segment_id", segmentID)
	}

	return nil
}

func (c *contextStore) Unfold(ctx context.Context, segmentID string) error {
	k := c.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.segments[segmentID]; !ok {
		return core.NewError(core.MalformedEnvelope, "segment %q not found", segmentID)
	}

	payload := contextUnfoldPayload{SegmentID: segmentID}
	if _, err := k.appendWAL(wal.EntryContextUnfold, encode(payload)); err != nil {
		return err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryContextUnfold, Payload: encode(payload)}); err != nil {
		return err
	}
	k.maybeCheckpoint(ctx)

	return nil
}

func (c *contextStore) Evict(ctx context.Context, segmentID string) error {
	k := c.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.segments[segmentID]; !ok {
		return core.NewError(core.MalformedEnvelope, "segment %q not found", segmentID)
	}

	payload := contextEvictPayload{SegmentID: segmentID}
	if _, err := k.appendWAL(wal.EntryContextEvict, encode(payload)); err != nil {
		return err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryContextEvict, Payload: encode(payload)}); err != nil {
		return err
	}
	k.maybeCheckpoint(ctx)

	return nil
}

func (c *contextStore) SetRelevance(ctx context.Context, segmentID string, score float64) error {
	k := c.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.segments[segmentID]; !ok {
		return core.NewError(core.MalformedEnvelope, "segment %q not found", segmentID)
	}

	payload := contextSetRelevancePayload{SegmentID: segmentID, Relevance: score}
	if _, err := k.appendWAL(wal.EntryContextSetRelevance, encode(payload)); err != nil {
		return err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryContextSetRelevance, Payload: encode(payload)}); err != nil {
		return err
	}
	k.maybeCheckpoint(ctx)

	return nil
}

func (c *contextStore) Budget(threadID string) (currentTokens, limit int, err error) {
	k := c.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, id := range k.segmentOrder[threadID] {
		seg, ok := k.segments[id]
		if !ok {
			continue
		}
		if seg.Status == core.SegmentExpanded || seg.Status == core.SegmentFolded {
			currentTokens += seg.TokenEstimate
		}
	}
	return currentTokens, k.cfg.ContextTokenBudget, nil
}
