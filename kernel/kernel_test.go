package kernel

import (
	"context"
	"os"
	"testing"

	"github.com/dispatchfabric/fabric/core"
	"github.com/stretchr/testify/require"
)

func testProfile(name string, handlers ...string) core.Profile {
	dt := core.DispatchTable{}
	for _, h := range handlers {
		dt[h] = []string{h}
	}
	return core.Profile{Name: name, DispatchTable: dt}
}

func newTestKernel(t *testing.T) (*Kernel, string) {
	t.Helper()
	dir := t.TempDir()
	k, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k, dir
}

func TestSpawnRootAndChild(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	root, err := k.Threads().Spawn(ctx, "", testProfile("root-profile", "a", "b"))
	require.NoError(t, err)
	require.Equal(t, core.RootThreadComponent, root)

	child, err := k.Threads().Spawn(ctx, root, testProfile("child-profile", "a"))
	require.NoError(t, err)
	require.Contains(t, child, root+".")

	th, ok := k.Threads().Get(child)
	require.True(t, ok)
	require.Equal(t, core.ThreadActive, th.State)
	require.Equal(t, root, th.Parent)
}

func TestSpawnRejectsPrivilegeEscalation(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	root, err := k.Threads().Spawn(ctx, "", testProfile("root-profile", "a"))
	require.NoError(t, err)

	_, err = k.Threads().Spawn(ctx, root, testProfile("wider-profile", "a", "b"))
	require.Error(t, err)
	var fe *core.FabricError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, core.PrivilegeEscalation, fe.Kind)
}

func TestContextFoldUnfoldEvictReversibility(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	root, err := k.Threads().Spawn(ctx, "", testProfile("p"))
	require.NoError(t, err)

	segID, err := k.Context().Append(ctx, root, []byte("full content"), core.ContentMessage)
	require.NoError(t, err)

	views, err := k.Context().GetView(root)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].Present)
	require.Equal(t, []byte("full content"), views[0].Bytes)

	require.NoError(t, k.Context().Fold(ctx, segID, []byte("summary")))
	views, err = k.Context().GetView(root)
	require.NoError(t, err)
	require.Equal(t, []byte("summary"), views[0].Bytes)

	require.NoError(t, k.Context().Unfold(ctx, segID))
	views, err = k.Context().GetView(root)
	require.NoError(t, err)
	require.Equal(t, []byte("full content"), views[0].Bytes, "unfold must restore the original bytes, not the summary")

	require.NoError(t, k.Context().Evict(ctx, segID))
	views, err = k.Context().GetView(root)
	require.NoError(t, err)
	require.False(t, views[0].Present)
}

func TestJournalAppendOnlyAndPrune(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	root, err := k.Threads().Spawn(ctx, "", testProfile("p"))
	require.NoError(t, err)

	e1, err := k.JournalStore().Append(ctx, core.JournalEntry{ThreadID: root, Direction: core.Inbound, Retention: core.RetentionPolicy{Kind: core.PruneOnDelivery}})
	require.NoError(t, err)
	require.Equal(t, uint64(0), e1.ID)

	e2, err := k.JournalStore().Append(ctx, core.JournalEntry{ThreadID: root, Direction: core.Outbound, Retention: core.RetentionPolicy{Kind: core.PruneOnDelivery}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e2.ID)

	require.NoError(t, k.MarkDelivered(ctx, []uint64{e1.ID}))

	n, err := k.JournalStore().Prune(ctx, core.RetentionPolicy{Kind: core.PruneOnDelivery})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	remaining, err := k.JournalStore().Scan(0, nil)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, e2.ID, remaining[0].ID)
}

func TestCrashRecoveryReplaysWal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	k1, err := New(dir)
	require.NoError(t, err)

	root, err := k1.Threads().Spawn(ctx, "", testProfile("p", "a"))
	require.NoError(t, err)
	segID, err := k1.Context().Append(ctx, root, []byte("payload"), core.ContentMessage)
	require.NoError(t, err)
	_, err = k1.JournalStore().Append(ctx, core.JournalEntry{ThreadID: root, Direction: core.Inbound})
	require.NoError(t, err)
	require.NoError(t, k1.Close())

	k2, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k2.Close() })

	th, ok := k2.Threads().Get(root)
	require.True(t, ok)
	require.Equal(t, core.ThreadActive, th.State)

	views, err := k2.Context().GetView(root)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, segID, views[0].SegmentID)
	require.Equal(t, []byte("payload"), views[0].Bytes)

	entries, err := k2.JournalStore().Scan(0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCheckpointTruncatesWalAndPreservesState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	k1, err := New(dir, func(o *Options) { o.Config.CheckpointEvery = 1 })
	require.NoError(t, err)

	root, err := k1.Threads().Spawn(ctx, "", testProfile("p"))
	require.NoError(t, err)
	_, err = k1.Context().Append(ctx, root, []byte("data"), core.ContentMessage)
	require.NoError(t, err)
	require.NoError(t, k1.Close())

	info, err := os.Stat(dir + "/checkpoint.json")
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	k2, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k2.Close() })

	th, ok := k2.Threads().Get(root)
	require.True(t, ok)
	require.Equal(t, core.ThreadActive, th.State)

	views, err := k2.Context().GetView(root)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, []byte("data"), views[0].Bytes)
}

func TestContextBudgetTracksTokenEstimate(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()

	root, err := k.Threads().Spawn(ctx, "", testProfile("p"))
	require.NoError(t, err)

	before, limit, err := k.Context().Budget(root)
	require.NoError(t, err)
	require.Equal(t, 0, before)
	require.Equal(t, DefaultConfig.ContextTokenBudget, limit)

	_, err = k.Context().Append(ctx, root, []byte("01234567"), core.ContentMessage)
	require.NoError(t, err)

	after, _, err := k.Context().Budget(root)
	require.NoError(t, err)
	require.Equal(t, 2, after)
}
