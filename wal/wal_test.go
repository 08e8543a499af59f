package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dispatchfabric/fabric/wal"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.Open(path)
	require.NoError(t, err)

	lsn1, err := w.Append(wal.EntryThreadSpawn, []byte("thread-a"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), lsn1)

	lsn2, err := w.Append(wal.EntryContextAppend, []byte("segment-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), lsn2)

	require.NoError(t, w.Close())

	var got []wal.Record
	next, err := wal.Replay(path, func(r wal.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)
	require.Len(t, got, 2)
	require.Equal(t, wal.EntryThreadSpawn, got[0].Kind)
	require.Equal(t, []byte("thread-a"), got[0].Payload)
	require.Equal(t, wal.EntryContextAppend, got[1].Kind)
}

func TestReplayIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.Open(path)
	require.NoError(t, err)
	_, err = w.Append(wal.EntryThreadSpawn, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	apply := func() []string {
		var state []string
		_, err := wal.Replay(path, func(r wal.Record) error {
			state = append(state, string(r.Payload))
			return nil
		})
		require.NoError(t, err)
		return state
	}

	first := apply()
	second := apply()
	require.Equal(t, first, second)
}

func TestAtomicBatchReplaysAllSubEntriesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.Open(path)
	require.NoError(t, err)

	lsns, err := w.AppendBatch([]wal.PendingEntry{
		{Kind: wal.EntryThreadSpawn, Payload: []byte("child")},
		{Kind: wal.EntryContextAppend, Payload: []byte("seed-context")},
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, lsns)
	require.NoError(t, w.Close())

	var got []wal.Record
	_, err = wal.Replay(path, func(r wal.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, wal.EntryThreadSpawn, got[0].Kind)
	require.Equal(t, wal.EntryContextAppend, got[1].Kind)
}

func TestReplayDiscardsTrailingPartialRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.Open(path)
	require.NoError(t, err)
	_, err = w.Append(wal.EntryThreadSpawn, []byte("complete"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: append a truncated frame.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x10, 0x00, 0x00, 0x00, 0xAA, 0xBB}) // length says 16 bytes follow, only garbage given
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []wal.Record
	next, err := wal.Replay(path, func(r wal.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), next)
}

func TestReplayFailsFatalOnMidStreamCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := wal.Open(path)
	require.NoError(t, err)
	_, err = w.Append(wal.EntryThreadSpawn, []byte("first"))
	require.NoError(t, err)
	_, err = w.Append(wal.EntryThreadSpawn, []byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the first record's body (after the 8-byte length+crc header).
	raw[10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = wal.Replay(path, func(r wal.Record) error { return nil })
	require.Error(t, err)
}
