package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner    uint64 = 1
	stranger uint64 = 2
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine[string], *MemoryStore[string]) {
	t.Helper()
	store := NewMemoryStore[string]()
	store.Create("doc-1", "Notes", owner, "{}", fixedNow)
	return New[string](store, WithClock[string](func() time.Time { return fixedNow })), store
}

func TestProposeEdit_CommitIncrementsVersion(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.ProposeEdit(ctx, "doc-1", "one", 0, owner)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, uint64(1), res.Snapshot.Version)
	assert.Equal(t, "one", res.Snapshot.Content)
	assert.Equal(t, "Notes", res.Snapshot.Title)
	assert.Equal(t, fixedNow, res.Snapshot.LastModified)
}

func TestProposeEdit_StaleBaseIsRejectedWithCurrent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ProposeEdit(ctx, "doc-1", "one", 0, owner)
	require.NoError(t, err)

	res, err := eng.ProposeEdit(ctx, "doc-1", "late", 0, owner)
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.Equal(t, uint64(1), res.Snapshot.Version)
	assert.Equal(t, "one", res.Snapshot.Content)

	// Rejection carries exactly what a fresh read returns.
	current, err := eng.Current(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, current, res.Snapshot)
}

func TestProposeEdit_Monotonic(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var base uint64
	for i := 0; i < 50; i++ {
		res, err := eng.ProposeEdit(ctx, "doc-1", "x", base, owner)
		require.NoError(t, err)
		require.True(t, res.Committed)
		require.Equal(t, base+1, res.Snapshot.Version)
		base = res.Snapshot.Version
	}
}

func TestProposeEdit_ExactlyOneWinner(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	for u := uint64(10); u < 30; u++ {
		require.NoError(t, store.GrantCollaborator(ctx, "doc-1", u))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result[string]
	)
	start := make(chan struct{})
	for u := uint64(10); u < 30; u++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			<-start
			res, err := eng.ProposeEdit(ctx, "doc-1", "from-user", 0, user)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(u)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r.Committed {
			winners++
		}
		assert.Equal(t, uint64(1), r.Snapshot.Version)
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, results, 20)
}

func TestProposeEdit_ConcurrentRebasingProposersHaveNoGaps(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.GrantCollaborator(ctx, "doc-1", stranger))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []uint64
	)
	for _, user := range []uint64{owner, stranger} {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			var base uint64
			for commits := 0; commits < 25; {
				res, err := eng.ProposeEdit(ctx, "doc-1", "edit", base, user)
				if !assert.NoError(t, err) {
					return
				}
				base = res.Snapshot.Version
				if res.Committed {
					commits++
					mu.Lock()
					versions = append(versions, res.Snapshot.Version)
					mu.Unlock()
				}
			}
		}(user)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, v := range versions {
		assert.False(t, seen[v], "version %d committed twice", v)
		seen[v] = true
	}
	for v := uint64(1); v <= 50; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

func TestProposeEdit_AccessDeniedDoesNotGrant(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ProposeEdit(ctx, "doc-1", "sneaky", 0, stranger)
	assert.ErrorIs(t, err, ErrForbidden)

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), doc.Version)
	assert.Equal(t, AccessNone, ResolveAccess(doc, stranger))
}

func TestProposeEdit_NotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.ProposeEdit(context.Background(), "missing", "x", 0, owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProposeEdit_MalformedInput(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.ProposeEdit(context.Background(), "", "x", 0, owner)
	assert.ErrorIs(t, err, ErrInvalidProposal)
}

type failingStore struct {
	*MemoryStore[string]
}

var errDiskFull = errors.New("disk full")

func (f failingStore) ConditionalCommit(context.Context, string, uint64, string, time.Time) (CommitResult[string], error) {
	return CommitResult[string]{}, errDiskFull
}

func TestProposeEdit_PersistenceFailureLeavesVersion(t *testing.T) {
	mem := NewMemoryStore[string]()
	mem.Create("doc-1", "Notes", owner, "{}", fixedNow)
	eng := New[string](failingStore{mem})

	_, err := eng.ProposeEdit(context.Background(), "doc-1", "x", 0, owner)
	assert.ErrorIs(t, err, errDiskFull)

	current, err := eng.Current(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), current.Version)
	assert.Equal(t, "{}", current.Content)
}

func TestJoin_GrantsCollaboratorOnce(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	snap, access, err := eng.Join(ctx, "doc-1", stranger)
	require.NoError(t, err)
	assert.Equal(t, AccessCollaborator, access)
	assert.Equal(t, uint64(0), snap.Version)

	doc, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{stranger}, doc.Collaborators)

	_, access, err = eng.Join(ctx, "doc-1", stranger)
	require.NoError(t, err)
	assert.Equal(t, AccessCollaborator, access)
	doc, _ = store.Get(ctx, "doc-1")
	assert.Len(t, doc.Collaborators, 1)

	// After joining, edits are allowed.
	res, err := eng.ProposeEdit(ctx, "doc-1", "hello", 0, stranger)
	require.NoError(t, err)
	assert.True(t, res.Committed)
}

func TestJoin_OwnerAndNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, access, err := eng.Join(ctx, "doc-1", owner)
	require.NoError(t, err)
	assert.Equal(t, AccessOwner, access)

	_, _, err = eng.Join(ctx, "nope", owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveAccess(t *testing.T) {
	doc := &Document[string]{OwnerID: 1, Collaborators: []uint64{3, 4}}

	assert.Equal(t, AccessOwner, ResolveAccess(doc, 1))
	assert.Equal(t, AccessCollaborator, ResolveAccess(doc, 4))
	assert.Equal(t, AccessNone, ResolveAccess(doc, 2))
	assert.Equal(t, AccessNone, ResolveAccess(doc, 0))
	assert.Equal(t, AccessNone, ResolveAccess[string](nil, 1))
	assert.Equal(t, "collaborator", AccessCollaborator.String())
}
