package kernel

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dispatchfabric/fabric/core"
)

// snapshot is the on-disk checkpoint format (§4.6): a full copy of
// in-memory state plus the WAL LSN it was taken at, so recovery can seed
// the Wal's next LSN correctly even though the log itself is truncated to
// empty immediately after a checkpoint.
type snapshot struct {
	Threads       map[string]*core.Thread    `json:"threads"`
	Profiles      map[string]core.Profile    `json:"profiles"`
	Segments      map[string]*core.Segment   `json:"segments"`
	SegmentOrder  map[string][]string        `json:"segment_order"`
	Journal       []core.JournalEntry        `json:"journal"`
	JournalNextID uint64                     `json:"journal_next_id"`
	NextLSN       uint64                     `json:"next_lsn"`
	Blobs         map[string][]byte          `json:"blobs"`
}

func (k *Kernel) checkpointPath() string {
	return filepath.Join(k.dataDir, "checkpoint.json")
}

// loadCheckpoint restores state from the last checkpoint, if one exists, so
// New only needs to replay WAL records written since that point. Returns
// the LSN the checkpoint was taken at (0 if none exists).
func (k *Kernel) loadCheckpoint() (uint64, error) {
	b, err := os.ReadFile(k.checkpointPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return 0, core.NewError(core.CheckpointInconsistent, "malformed checkpoint: %v", err)
	}

	k.threads = snap.Threads
	k.profiles = snap.Profiles
	k.segments = snap.Segments
	k.segmentOrder = snap.SegmentOrder
	if k.segmentOrder == nil {
		k.segmentOrder = map[string][]string{}
	}
	k.journal = snap.Journal
	k.journalNextID = snap.JournalNextID
	k.journalIndex = map[uint64]int{}
	for i, e := range k.journal {
		k.journalIndex[e.ID] = i
	}

	for id, bytes := range snap.Blobs {
		if err := k.blobs.Put(id, bytes); err != nil {
			return 0, err
		}
	}

	return snap.NextLSN, nil
}

// checkpointLocked snapshots in-memory state to disk and truncates the WAL
// prefix. Must be called with k.mu held.
func (k *Kernel) checkpointLocked() error {
	blobs := map[string][]byte{}
	for id := range k.segments {
		b, err := k.blobs.Get(id)
		if err != nil {
			continue
		}
		blobs[id] = b
	}

	snap := snapshot{
		Threads:       k.threads,
		Profiles:      k.profiles,
		Segments:      k.segments,
		SegmentOrder:  k.segmentOrder,
		Journal:       k.journal,
		JournalNextID: k.journalNextID,
		NextLSN:       k.wal.PeekNextLSN(),
		Blobs:         blobs,
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp := k.checkpointPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, k.checkpointPath()); err != nil {
		return err
	}

	if err := k.wal.Truncate(); err != nil {
		return err
	}
	k.wal.SeedLSN(snap.NextLSN)

	k.log.Info("kernel.checkpoint", "next_lsn", snap.NextLSN, "threads", len(k.threads))

	return nil
}
