// Package wal implements the Durable Kernel's write-ahead log (§4.6).
//
// On-disk framing is grounded on original_source/src/kernel/wal.rs:
// [length:u32 LE][crc32:u32 LE][entry_type:u8][payload], checksum computed
// over entry_type+payload. Records additionally carry an lsn, folded into
// the framed payload so the checksum covers it too.
package wal

// EntryType discriminates what a WAL record represents. Each constant maps
// 1:1 onto a Kernel sub-store mutation named in SPEC_FULL.md §4.3-§4.5.
type EntryType uint8

const (
	EntryThreadSpawn EntryType = iota + 1
	EntryThreadReturn
	EntryThreadFail
	EntryThreadIncrementIteration
	EntryContextAppend
	EntryContextFold
	EntryContextUnfold
	EntryContextEvict
	EntryContextSetRelevance
	EntryJournalAppend
	EntryJournalMarkDelivered
	EntryCheckpoint
	EntryAtomicBatch
)

func (t EntryType) String() string {
	switch t {
	case EntryThreadSpawn:
		return "ThreadSpawn"
	case EntryThreadReturn:
		return "ThreadReturn"
	case EntryThreadFail:
		return "ThreadFail"
	case EntryThreadIncrementIteration:
		return "ThreadIncrementIteration"
	case EntryContextAppend:
		return "ContextAppend"
	case EntryContextFold:
		return "ContextFold"
	case EntryContextUnfold:
		return "ContextUnfold"
	case EntryContextEvict:
		return "ContextEvict"
	case EntryContextSetRelevance:
		return "ContextSetRelevance"
	case EntryJournalAppend:
		return "JournalAppend"
	case EntryJournalMarkDelivered:
		return "JournalMarkDelivered"
	case EntryCheckpoint:
		return "Checkpoint"
	case EntryAtomicBatch:
		return "AtomicBatch"
	default:
		return "Unknown"
	}
}

// Record is one logical WAL entry: a monotonic sequence number, a kind
// discriminator, and a kind-specific encoded payload.
type Record struct {
	LSN     uint64
	Kind    EntryType
	Payload []byte
}
