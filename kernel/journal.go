package kernel

import (
	"context"
	"time"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/wal"
)

// journalStore is the Kernel viewed through the core.Journal interface
// (§4.5). Monotonic ID assignment happens under kernel.mu, the same lock
// serializing every other mutation, so two appends never share an id.
type journalStore Kernel

func (j *journalStore) k() *Kernel { return (*Kernel)(j) }

func (j *journalStore) Append(ctx context.Context, entry core.JournalEntry) (core.JournalEntry, error) {
	k := j.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	entry.ID = k.journalNextID
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixNano()
	}

	payload := journalAppendPayload{Entry: entry}
	if _, err := k.appendWAL(wal.EntryJournalAppend, encode(payload)); err != nil {
		return core.JournalEntry{}, err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryJournalAppend, Payload: encode(payload)}); err != nil {
		return core.JournalEntry{}, err
	}
	k.maybeCheckpoint(ctx)

	return entry, nil
}

// MarkDelivered marks every id in an output group (Reply, Send, or
// Broadcast alike) delivered together, once each has been confirmed against
// a matching Inbound entry by the caller — prune_on_delivery (§3.1, §4.5),
// grounded on original_source/src/kernel/journal.rs mark_delivered_by_thread.
func (k *Kernel) MarkDelivered(ctx context.Context, ids []uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	payload := journalMarkDeliveredPayload{IDs: ids}
	if _, err := k.appendWAL(wal.EntryJournalMarkDelivered, encode(payload)); err != nil {
		return err
	}
	return k.apply(wal.Record{Kind: wal.EntryJournalMarkDelivered, Payload: encode(payload)})
}

func (j *journalStore) Scan(from uint64, filter func(core.JournalEntry) bool) ([]core.JournalEntry, error) {
	k := j.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	var out []core.JournalEntry
	for _, e := range k.journal {
		if e.ID < from {
			continue
		}
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Prune deletes whole entries per policy (§4.5). retain_forever never
// prunes; prune_on_delivery removes entries already marked Delivered;
// retain_days(N) removes entries older than N days. Pruning itself is not
// WAL-logged as a distinct mutation type: the resulting journal slice is
// recomputed deterministically from policy + wall-clock on every prune
// call, so replay never needs to reproduce a prune decision — only the
// Delivered marks (which are WAL-durable) matter for prune_on_delivery.
func (k *Kernel) Prune(ctx context.Context, policy core.RetentionPolicy) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch policy.Kind {
	case core.RetainForever:
		return 0, nil

	case core.PruneOnDelivery:
		return k.pruneLocked(func(e core.JournalEntry) bool { return e.Delivered }), nil

	case core.RetainDays:
		cutoff := time.Now().AddDate(0, 0, -policy.Days).UnixNano()
		return k.pruneLocked(func(e core.JournalEntry) bool { return e.Timestamp < cutoff }), nil

	default:
		return 0, core.NewError(core.MalformedEnvelope, "unknown retention policy kind %q", policy.Kind)
	}
}

func (k *Kernel) pruneLocked(shouldDelete func(core.JournalEntry) bool) int {
	kept := k.journal[:0]
	newIndex := map[uint64]int{}
	removed := 0

	for _, e := range k.journal {
		if shouldDelete(e) {
			removed++
			continue
		}
		newIndex[e.ID] = len(kept)
		kept = append(kept, e)
	}

	k.journal = kept
	k.journalIndex = newIndex
	return removed
}

func (j *journalStore) Prune(ctx context.Context, policy core.RetentionPolicy) (int, error) {
	return j.k().Prune(ctx, policy)
}

// MarkDelivered exposes the Kernel's bulk-mark helper on the journalStore
// facade too, so callers holding a core.Journal value can reach it via a
// type assertion (dispatch.Engine does this for every response kind's
// output group) without needing a reference to the underlying *Kernel.
func (j *journalStore) MarkDelivered(ctx context.Context, ids []uint64) error {
	return j.k().MarkDelivered(ctx, ids)
}
