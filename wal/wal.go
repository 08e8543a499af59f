package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Wal is the single-writer append-only log backing the Kernel. Every
// mutation to thread table, context store, or journal is packaged as a
// Record and fsynced before the in-memory structures reflect it (§4.6).
type Wal struct {
	mu     sync.Mutex
	file   *os.File
	nextLSN uint64
}

// Open opens (creating if absent) the WAL file at path with nextLSN set to 1;
// it does not scan the existing file. Callers that need full crash-recovery
// semantics should call Replay explicitly and seed the Wal's nextLSN from
// the last record it returns via SeedLSN; Open alone does not replay.
func Open(path string) (*Wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Wal{file: f, nextLSN: 1}, nil
}

// SeedLSN sets the next LSN to be assigned, typically to (last replayed LSN + 1).
func (w *Wal) SeedLSN(next uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextLSN = next
}

// PeekNextLSN returns the LSN that would be assigned to the next Append,
// without consuming it. Used when taking a checkpoint to record the point
// recovery should resume from after the WAL is truncated.
func (w *Wal) PeekNextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// Close fsyncs and closes the underlying file.
func (w *Wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// encodeBody produces entry_type(1) + lsn(8 LE) + payload, the byte range
// the checksum is computed over.
func encodeBody(kind EntryType, lsn uint64, payload []byte) []byte {
	body := make([]byte, 1+8+len(payload))
	body[0] = byte(kind)
	binary.LittleEndian.PutUint64(body[1:9], lsn)
	copy(body[9:], payload)
	return body
}

// encodeFrame wraps a body with its length-prefix and checksum:
// [length:u32 LE][crc32:u32 LE][body].
func encodeFrame(body []byte) []byte {
	frame := make([]byte, 4+4+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body))
	copy(frame[8:], body)
	return frame
}

// Append writes one record, fsyncing before returning. The assigned LSN is
// returned for the caller to reflect into in-memory state.
func (w *Wal) Append(kind EntryType, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.nextLSN
	frame := encodeFrame(encodeBody(kind, lsn, payload))

	if _, err := w.file.Write(frame); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("wal: fsync: %w", err)
	}

	w.nextLSN++
	return lsn, nil
}

// PendingEntry is one sub-record of an AtomicBatch, queued before the kind
// and payload are individually length-prefixed inside the batch body.
type PendingEntry struct {
	Kind    EntryType
	Payload []byte
}

// AppendBatch writes every entry as a single AtomicBatch record behind one
// fsync. Sub-entries receive sequential LSNs in the order given.
func (w *Wal) AppendBatch(entries []PendingEntry) ([]uint64, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	lsns := make([]uint64, len(entries))
	var batchBody []byte
	lsn := w.nextLSN
	for i, e := range entries {
		lsns[i] = lsn
		sub := encodeBody(e.Kind, lsn, e.Payload)
		subLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(subLen, uint32(len(sub)))
		batchBody = append(batchBody, subLen...)
		batchBody = append(batchBody, sub...)
		lsn++
	}

	// The batch marker itself also consumes an LSN so recovery can
	// identify the frame's own sequence position.
	batchLSN := lsn
	frame := encodeFrame(encodeBody(EntryAtomicBatch, batchLSN, batchBody))

	if _, err := w.file.Write(frame); err != nil {
		return nil, fmt.Errorf("wal: append batch: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return nil, fmt.Errorf("wal: fsync batch: %w", err)
	}

	w.nextLSN = batchLSN + 1
	return lsns, nil
}

// decodeBatch splits an AtomicBatch's payload back into its sub-records.
func decodeBatch(payload []byte) ([]Record, error) {
	var records []Record
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("wal: truncated batch sub-entry length")
		}
		subLen := binary.LittleEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < subLen {
			return nil, fmt.Errorf("wal: truncated batch sub-entry body")
		}
		sub := payload[:subLen]
		payload = payload[subLen:]

		if len(sub) < 9 {
			return nil, fmt.Errorf("wal: malformed batch sub-entry")
		}
		kind := EntryType(sub[0])
		lsn := binary.LittleEndian.Uint64(sub[1:9])
		records = append(records, Record{LSN: lsn, Kind: kind, Payload: append([]byte(nil), sub[9:]...)})
	}
	return records, nil
}

// Replay scans the WAL file from the beginning, applying fn to every record
// in lsn order (AtomicBatch records are unpacked into their constituent
// sub-records, in order, before the batch marker's own record is skipped).
// Per SPEC_FULL.md §4.6, ANY mid-stream checksum mismatch is fatal
// (CorruptedWal); only a trailing incomplete record — consistent with a
// crash mid-write — is silently discarded. Returns the LSN to resume
// assigning from.
func Replay(path string, fn func(Record) error) (nextLSN uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("wal: open for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lastLSN := uint64(0)

	for {
		lenBuf := make([]byte, 4)
		n, readErr := io.ReadFull(r, lenBuf)
		if readErr == io.EOF {
			break
		}
		if readErr == io.ErrUnexpectedEOF || n < 4 {
			// Trailing partial frame: crash mid-write. Discard and stop.
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("wal: read length: %w", readErr)
		}

		bodyLen := binary.LittleEndian.Uint32(lenBuf)

		crcBuf := make([]byte, 4)
		if _, readErr = io.ReadFull(r, crcBuf); readErr != nil {
			if readErr == io.ErrUnexpectedEOF {
				break
			}
			return 0, fmt.Errorf("wal: read checksum: %w", readErr)
		}
		wantCRC := binary.LittleEndian.Uint32(crcBuf)

		body := make([]byte, bodyLen)
		if _, readErr = io.ReadFull(r, body); readErr != nil {
			if readErr == io.ErrUnexpectedEOF {
				// Trailing partial record: discard, stop cleanly.
				break
			}
			return 0, fmt.Errorf("wal: read body: %w", readErr)
		}

		if crc32.ChecksumIEEE(body) != wantCRC {
			return 0, fmt.Errorf("wal: checksum mismatch at byte offset, entry corrupted: %w",
				fmt.Errorf("CorruptedWal"))
		}

		if len(body) < 9 {
			return 0, fmt.Errorf("wal: malformed record body")
		}
		kind := EntryType(body[0])
		lsn := binary.LittleEndian.Uint64(body[1:9])
		payload := append([]byte(nil), body[9:]...)

		if kind == EntryAtomicBatch {
			subRecords, decErr := decodeBatch(payload)
			if decErr != nil {
				return 0, fmt.Errorf("wal: CorruptedWal: %w", decErr)
			}
			for _, sr := range subRecords {
				if err := fn(sr); err != nil {
					return 0, err
				}
				if sr.LSN > lastLSN {
					lastLSN = sr.LSN
				}
			}
		} else {
			if err := fn(Record{LSN: lsn, Kind: kind, Payload: payload}); err != nil {
				return 0, err
			}
		}

		if lsn > lastLSN {
			lastLSN = lsn
		}
	}

	return lastLSN + 1, nil
}

// Truncate discards the WAL file's contents, used after a checkpoint
// snapshot has captured all state the log would otherwise replay (§4.6
// "Checkpoints ... truncate the WAL prefix").
func (w *Wal) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}
