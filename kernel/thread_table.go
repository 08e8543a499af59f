package kernel

import (
	"context"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/wal"
)

// threadTable is the Kernel viewed through the core.ThreadTable interface.
// It shares the Kernel's mutex and maps rather than owning separate state,
// mirroring how the original kernel composes sub-stores as views over one
// shared arena (original_source/src/kernel/mod.rs).
type threadTable Kernel

func (t *threadTable) k() *Kernel { return (*Kernel)(t) }

// Spawn creates a child thread under parentID, enforcing profile
// monotonicity (§4.3, testable property 3): the requested profile's
// permitted handler set must be a subset of the parent's, else the spawn
// fails with PrivilegeEscalation before anything is written to the WAL.
func (t *threadTable) Spawn(ctx context.Context, parentID string, requestedProfile core.Profile) (string, error) {
	k := t.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	var parent *core.Thread
	if parentID != "" {
		p, ok := k.threads[parentID]
		if !ok {
			return "", core.NewError(core.UnknownThread, "parent thread %q not found", parentID)
		}
		parent = p
		if parent.IsTerminal() {
			return "", core.NewError(core.UnknownThread, "parent thread %q is terminal", parentID)
		}
	}

	threadID := core.RootThreadComponent
	if parent != nil {
		threadID = core.ChildThreadID(parentID)
		if parentProfile, ok := k.profiles[parentID]; ok {
			if !requestedProfile.DispatchTable.IsSubsetOf(parentProfile.DispatchTable) {
				return "", core.NewError(core.PrivilegeEscalation,
					"profile %q is not a subset of parent profile %q", requestedProfile.Name, parentProfile.Name)
			}
		}
	}

	payload := spawnPayload{ThreadID: threadID, Parent: parentID, Profile: requestedProfile}
	if _, err := k.appendWAL(wal.EntryThreadSpawn, encode(payload)); err != nil {
		return "", err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryThreadSpawn, Payload: encode(payload)}); err != nil {
		return "", err
	}
	k.maybeCheckpoint(ctx)

	k.log.Info("kernel.thread.spawn", "thread_id", threadID, "parent", parentID, "profile", requestedProfile.Name)

	return threadID, nil
}

func (t *threadTable) Return(ctx context.Context, threadID string) error {
	k := t.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.threads[threadID]; !ok {
		return core.NewError(core.UnknownThread, "thread %q not found", threadID)
	}

	payload := returnPayload{ThreadID: threadID}
	if _, err := k.appendWAL(wal.EntryThreadReturn, encode(payload)); err != nil {
		return err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryThreadReturn, Payload: encode(payload)}); err != nil {
		return err
	}
	k.maybeCheckpoint(ctx)

	return nil
}

func (t *threadTable) Fail(ctx context.Context, threadID string, cause error) error {
	k := t.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.threads[threadID]; !ok {
		return core.NewError(core.UnknownThread, "thread %q not found", threadID)
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	payload := failPayload{ThreadID: threadID, Cause: msg}
	if _, err := k.appendWAL(wal.EntryThreadFail, encode(payload)); err != nil {
		return err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryThreadFail, Payload: encode(payload)}); err != nil {
		return err
	}
	k.maybeCheckpoint(ctx)

	return nil
}

func (t *threadTable) Get(threadID string) (core.Thread, bool) {
	k := t.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads[threadID]
	if !ok {
		return core.Thread{}, false
	}
	cp := *th
	cp.Children = append([]string(nil), th.Children...)
	return cp, true
}

func (t *threadTable) Walk(rootID string, visit func(core.Thread) bool) error {
	k := t.k()

	k.mu.Lock()
	root, ok := k.threads[rootID]
	if !ok {
		k.mu.Unlock()
		return core.NewError(core.UnknownThread, "thread %q not found", rootID)
	}
	k.mu.Unlock()

	var walk func(id string) bool
	walk = func(id string) bool {
		k.mu.Lock()
		th, ok := k.threads[id]
		if !ok {
			k.mu.Unlock()
			return true
		}
		cp := *th
		cp.Children = append([]string(nil), th.Children...)
		k.mu.Unlock()

		if !visit(cp) {
			return false
		}
		for _, child := range cp.Children {
			if !walk(child) {
				return false
			}
		}
		return true
	}

	walk(root.ThreadID)
	return nil
}

func (t *threadTable) IncrementIteration(ctx context.Context, threadID string) (int, error) {
	k := t.k()

	k.mu.Lock()
	defer k.mu.Unlock()

	th, ok := k.threads[threadID]
	if !ok {
		return 0, core.NewError(core.UnknownThread, "thread %q not found", threadID)
	}

	payload := incrementIterationPayload{ThreadID: threadID}
	if _, err := k.appendWAL(wal.EntryThreadIncrementIteration, encode(payload)); err != nil {
		return 0, err
	}
	if err := k.apply(wal.Record{Kind: wal.EntryThreadIncrementIteration, Payload: encode(payload)}); err != nil {
		return 0, err
	}
	k.maybeCheckpoint(ctx)

	return th.IterationCount, nil
}
