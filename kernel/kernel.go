// Package kernel implements the Durable Kernel (§4.6): the single-writer
// core backing the Thread Table (§4.3), Context Store (§4.4) and Journal
// (§4.5) behind one write-ahead log.
//
// Grounded on original_source/src/kernel/mod.rs's discipline of writing to
// the WAL before any in-memory structure reflects a change, generalized to
// the tree-shaped thread model and fold/evict/relevance context model
// SPEC_FULL.md §4.3/§4.4 require (the original's flatter models only ground
// the WAL entry-type vocabulary, see DESIGN.md).
package kernel

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dispatchfabric/fabric/blob"
	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/logging"
	"github.com/dispatchfabric/fabric/wal"
)

// Config tunes the Kernel's durability and resource behavior.
type Config struct {
	// CheckpointEvery is the number of WAL records between automatic
	// checkpoints. Zero disables automatic checkpointing.
	CheckpointEvery int
	// MaxPayloadBytes bounds any single context-segment append; larger
	// content is rejected with PayloadTooLarge. Journal entries carry only a
	// payload hash and are not checked against it.
	MaxPayloadBytes int
	// ContextTokenBudget is the per-thread token budget a curator
	// collaborator compares Budget()'s current_tokens against when
	// deciding whether to evict (§4.4).
	ContextTokenBudget int
}

// DefaultConfig mirrors the teacher's engine.DefaultConfig convention:
// sane values safe for local development.
var DefaultConfig = Config{
	CheckpointEvery:    1000,
	MaxPayloadBytes:    10 * 1024 * 1024,
	ContextTokenBudget: 8000,
}

// Options configures Kernel construction via the functional-options pattern
// used throughout this codebase (kernel.New, dispatch.New, agentloop.New,
// router.New).
type Options struct {
	Config Config
	Logger logging.Logger
	Blobs  blob.Store
}

// Kernel is the single-writer durable core. All mutating access to threads,
// segments, and the journal funnels through kernel.mu; reads may be served
// from the in-memory maps concurrently with the mutex held only briefly.
type Kernel struct {
	mu  sync.Mutex
	wal *wal.Wal
	cfg Config
	log logging.Logger

	blobs blob.Store

	threads  map[string]*core.Thread
	// profiles records the resolved Profile each thread was spawned with,
	// so later Spawn calls on its children can enforce monotonicity (§4.3)
	// without the Kernel needing a standing reference to the Profile
	// Resolver, which owns Profile for the rest of the pipeline (§4.2).
	profiles map[string]core.Profile
	segments map[string]*core.Segment
	// segmentOrder records each thread's segment ids in append order, since
	// core.Segment carries no sequence field (ID is a UUID, not monotonic)
	// and GetView/Budget must return/total them in that order (§4.4).
	segmentOrder map[string][]string

	journal       []core.JournalEntry
	journalIndex  map[uint64]int
	journalNextID uint64

	dataDir            string
	recordsSinceCkpt    int
}

// New opens or creates a Kernel rooted at dataDir, replaying its WAL (and
// any checkpoint snapshot) to restore in-memory state before returning.
func New(dataDir string, optFns ...func(*Options)) (*Kernel, error) {
	opts := Options{Config: DefaultConfig, Logger: logging.NoOpLogger{}, Blobs: blob.NewMemStore()}
	for _, fn := range optFns {
		fn(&opts)
	}

	k := &Kernel{
		cfg:          opts.Config,
		log:          opts.Logger,
		blobs:        opts.Blobs,
		threads:      map[string]*core.Thread{},
		profiles:     map[string]core.Profile{},
		segments:     map[string]*core.Segment{},
		segmentOrder: map[string][]string{},
		journalIndex: map[uint64]int{},
		dataDir:      dataDir,
	}

	snapshotNextLSN, err := k.loadCheckpoint()
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, err
	}
	k.wal = w

	nextLSN, err := wal.Replay(filepath.Join(dataDir, "wal.log"), k.apply)
	if err != nil {
		return nil, core.NewError(core.CorruptedWal, "%v", err)
	}
	if snapshotNextLSN > nextLSN {
		nextLSN = snapshotNextLSN
	}
	k.wal.SeedLSN(nextLSN)

	k.log.Info("kernel.recovered", "threads", len(k.threads), "segments", len(k.segments), "journal_entries", len(k.journal))

	return k, nil
}

// Close fsyncs and releases the underlying WAL file.
func (k *Kernel) Close() error {
	return k.wal.Close()
}

// appendWAL writes one record to the underlying log, timing the call for
// LogWALWrite when a richer logger was configured. Every mutating Kernel
// method funnels its WAL write through here rather than k.wal.Append
// directly, so this accounting stays in one place.
func (k *Kernel) appendWAL(kind wal.EntryType, payload []byte) (uint64, error) {
	start := time.Now()
	lsn, err := k.wal.Append(kind, payload)
	if dl, ok := k.log.(logging.DomainLogger); ok {
		dl.LogWALWrite(kind.String(), len(payload), time.Since(start), err == nil, err)
	}
	return lsn, err
}

// apply reflects one replayed (or freshly written) WAL record into the
// in-memory maps. It is the single dispatch point both for crash recovery
// and, after a successful WAL write, for normal operation.
func (k *Kernel) apply(r wal.Record) error {
	switch r.Kind {
	case wal.EntryThreadSpawn:
		p, err := decode[spawnPayload](r.Payload)
		if err != nil {
			return err
		}
		t := &core.Thread{ThreadID: p.ThreadID, Profile: p.Profile.Name, State: core.ThreadActive, Parent: p.Parent}
		k.threads[p.ThreadID] = t
		k.profiles[p.ThreadID] = p.Profile
		if parent, ok := k.threads[p.Parent]; ok {
			parent.Children = append(parent.Children, p.ThreadID)
		}
		return nil

	case wal.EntryThreadReturn:
		p, err := decode[returnPayload](r.Payload)
		if err != nil {
			return err
		}
		if t, ok := k.threads[p.ThreadID]; ok {
			t.State = core.ThreadCompleted
		}
		return nil

	case wal.EntryThreadFail:
		p, err := decode[failPayload](r.Payload)
		if err != nil {
			return err
		}
		if t, ok := k.threads[p.ThreadID]; ok {
			t.State = core.ThreadFailed
		}
		return nil

	case wal.EntryThreadIncrementIteration:
		p, err := decode[incrementIterationPayload](r.Payload)
		if err != nil {
			return err
		}
		if t, ok := k.threads[p.ThreadID]; ok {
			t.IterationCount++
		}
		return nil

	case wal.EntryContextAppend:
		p, err := decode[contextAppendPayload](r.Payload)
		if err != nil {
			return err
		}
		seg := &core.Segment{
			ID:            p.SegmentID,
			ThreadID:      p.ThreadID,
			ContentType:   p.ContentType,
			Status:        core.SegmentExpanded,
			Relevance:     1.0,
			ByteSize:      len(p.Content),
			TokenEstimate: p.TokenEstimate,
		}
		k.segments[p.SegmentID] = seg
		k.segmentOrder[p.ThreadID] = append(k.segmentOrder[p.ThreadID], p.SegmentID)
		return k.blobs.Put(p.SegmentID, p.Content)

	case wal.EntryContextFold:
		p, err := decode[contextFoldPayload](r.Payload)
		if err != nil {
			return err
		}
		if seg, ok := k.segments[p.SegmentID]; ok {
			seg.Status = core.SegmentFolded
			seg.Summary = p.Summary
		}
		return nil

	case wal.EntryContextUnfold:
		p, err := decode[contextUnfoldPayload](r.Payload)
		if err != nil {
			return err
		}
		if seg, ok := k.segments[p.SegmentID]; ok {
			seg.Status = core.SegmentExpanded
		}
		return nil

	case wal.EntryContextEvict:
		p, err := decode[contextEvictPayload](r.Payload)
		if err != nil {
			return err
		}
		if seg, ok := k.segments[p.SegmentID]; ok {
			seg.Status = core.SegmentEvicted
		}
		return nil

	case wal.EntryContextSetRelevance:
		p, err := decode[contextSetRelevancePayload](r.Payload)
		if err != nil {
			return err
		}
		if seg, ok := k.segments[p.SegmentID]; ok {
			seg.Relevance = p.Relevance
		}
		return nil

	case wal.EntryJournalAppend:
		p, err := decode[journalAppendPayload](r.Payload)
		if err != nil {
			return err
		}
		k.journalIndex[p.Entry.ID] = len(k.journal)
		k.journal = append(k.journal, p.Entry)
		if p.Entry.ID >= k.journalNextID {
			k.journalNextID = p.Entry.ID + 1
		}
		return nil

	case wal.EntryJournalMarkDelivered:
		p, err := decode[journalMarkDeliveredPayload](r.Payload)
		if err != nil {
			return err
		}
		for _, id := range p.IDs {
			if idx, ok := k.journalIndex[id]; ok {
				k.journal[idx].Delivered = true
			}
		}
		return nil

	case wal.EntryCheckpoint:
		return nil

	default:
		return fmt.Errorf("kernel: CorruptedWal: unknown entry kind %d", r.Kind)
	}
}

// Threads returns the Thread Table facade over this Kernel.
func (k *Kernel) Threads() core.ThreadTable { return (*threadTable)(k) }

// Context returns the Context Store (Librarian) facade over this Kernel.
func (k *Kernel) Context() core.ContextStore { return (*contextStore)(k) }

// JournalStore returns the Journal facade over this Kernel.
func (k *Kernel) JournalStore() core.Journal { return (*journalStore)(k) }

// maybeCheckpoint triggers a checkpoint once recordsSinceCkpt crosses the
// configured cadence. Called with k.mu held.
func (k *Kernel) maybeCheckpoint(ctx context.Context) {
	if k.cfg.CheckpointEvery <= 0 {
		return
	}
	k.recordsSinceCkpt++
	if k.recordsSinceCkpt < k.cfg.CheckpointEvery {
		return
	}
	k.recordsSinceCkpt = 0
	if err := k.checkpointLocked(); err != nil {
		k.log.Error("kernel.checkpoint.failed", "error", err.Error())
	}
}
