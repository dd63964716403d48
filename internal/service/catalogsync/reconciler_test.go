package catalogsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/remote"
	"smartshop/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Reconciler, *memory.Store, *remote.Memory) {
	t.Helper()
	store := memory.NewStore()
	mirror := remote.NewMemory()
	r := New(store.Products(), mirror, feed.NewBroker(), nil, nil)
	r.retry = 10 * time.Millisecond
	t.Cleanup(r.Close)
	return r, store, mirror
}

func prod(id, name string) domain.Product {
	return domain.Product{ID: id, Name: name, Quantity: 4, Price: decimal.RequireFromString("3.50")}
}

func localName(t *testing.T, store *memory.Store, id string) string {
	t.Helper()
	p, err := store.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Name
}

func TestApply_InsertOnlyAndIdempotent(t *testing.T) {
	r, store, _ := setup(t)
	ctx := context.Background()

	n, err := r.Apply(ctx, "u1", []domain.Product{prod("p3", "Remote lamp")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Remote lamp", localName(t, store, "p3"))

	n, err = r.Apply(ctx, "u1", []domain.Product{prod("p3", "Renamed lamp")})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "Remote lamp", localName(t, store, "p3"))

	count, err := store.Products().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApply_SkipsInvalidAndDeleted(t *testing.T) {
	r, store, _ := setup(t)
	ctx := context.Background()

	_, err := store.Products().Create(ctx, prod("gone", "Gone"))
	require.NoError(t, err)
	require.NoError(t, store.Products().Delete(ctx, "gone"))

	bad := prod("bad", "")
	n, err := r.Apply(ctx, "u1", []domain.Product{bad, prod("gone", "Gone"), prod("ok", "Fine")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Products().GetByID(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Products().GetByID(ctx, "bad")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStart_MergesRemoteChanges(t *testing.T) {
	r, store, mirror := setup(t)
	ctx := context.Background()
	mirror.Put("u1", prod("a", "A"))

	require.NoError(t, r.Start(ctx, "u1"))
	require.NoError(t, r.Start(ctx, "u1"))

	require.Eventually(t, func() bool {
		_, err := store.Products().GetByID(ctx, "a")
		return err == nil && r.Status("u1").State == StateSynced
	}, 2*time.Second, 10*time.Millisecond)

	mirror.Put("u1", prod("b", "B"))
	require.Eventually(t, func() bool {
		_, err := store.Products().GetByID(ctx, "b")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	mirror.Put("u2", prod("c", "C"))
	time.Sleep(50 * time.Millisecond)
	_, err := store.Products().GetByID(ctx, "c")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStart_ErrorThenRecovery(t *testing.T) {
	r, _, mirror := setup(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "u1"))
	require.Eventually(t, func() bool { return r.Status("u1").State == StateSynced }, 2*time.Second, 10*time.Millisecond)

	mirror.Fail(errors.New("network down"))
	require.Eventually(t, func() bool { return r.Status("u1").State == StateError }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, r.Status("u1").LastError, "network down")

	mirror.Fail(nil)
	mirror.Put("u1", prod("x", "X"))
	require.Eventually(t, func() bool { return r.Status("u1").State == StateSynced }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, r.Status("u1").LastError)
}

func TestStart_RetriesRefusedSubscription(t *testing.T) {
	r, store, mirror := setup(t)
	ctx := context.Background()
	mirror.Fail(errors.New("refused"))

	require.NoError(t, r.Start(ctx, "u1"))
	require.Eventually(t, func() bool { return r.Status("u1").State == StateError }, 2*time.Second, 10*time.Millisecond)

	mirror.Fail(nil)
	mirror.Put("u1", prod("late", "Late"))
	require.Eventually(t, func() bool {
		_, err := store.Products().GetByID(ctx, "late")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopAndClose(t *testing.T) {
	r, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	assert.Equal(t, StateIdle, r.Status("u1").State)
	require.NoError(t, r.Start(ctx, "u1"))
	require.NoError(t, r.Start(ctx, "u2"))
	cancel()
	assert.NotEqual(t, StateIdle, r.Status("u1").State, "session must outlive the starting request")

	r.Stop("u1")
	assert.Equal(t, StateIdle, r.Status("u1").State)
	r.Stop("u1")

	r.Close()
	assert.Equal(t, StateIdle, r.Status("u2").State)
	assert.ErrorIs(t, r.Start(context.Background(), ""), domain.ErrUnauthenticated)
}

func TestPush_FailureIsSyncErrorAndLeavesLocalState(t *testing.T) {
	r, store, mirror := setup(t)
	ctx := context.Background()
	_, err := store.Products().Create(ctx, prod("p1", "Mug"))
	require.NoError(t, err)

	mirror.Fail(errors.New("write rejected"))
	err = r.PushUpsert(ctx, "u1", prod("p1", "Mug"))
	require.ErrorIs(t, err, domain.ErrSync)
	var syncErr *domain.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "push", syncErr.Op)
	assert.Equal(t, StateError, r.Status("u1").State)

	err = r.PushDelete(ctx, "u1", "p1")
	require.ErrorIs(t, err, domain.ErrSync)
	assert.Equal(t, "Mug", localName(t, store, "p1"))

	mirror.Fail(nil)
	require.NoError(t, r.PushUpsert(ctx, "u1", prod("p1", "Mug")))
	assert.Equal(t, StateIdle, r.Status("u1").State)
	assert.Len(t, mirror.Products("u1"), 1)

	require.NoError(t, r.PushDelete(ctx, "u1", "p1"))
	assert.Empty(t, mirror.Products("u1"))
}

func TestSyncToCloud_OneBatch(t *testing.T) {
	r, store, mirror := setup(t)
	ctx := context.Background()
	for _, p := range []domain.Product{prod("a", "A"), prod("b", "B"), prod("c", "C")} {
		_, err := store.Products().Create(ctx, p)
		require.NoError(t, err)
	}

	n, err := r.SyncToCloud(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, mirror.Writes())
	assert.Len(t, mirror.Products("u1"), 3)
	assert.False(t, r.Status("u1").LastSyncAt.IsZero())

	mirror.Fail(errors.New("offline"))
	_, err = r.SyncToCloud(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrSync)
	assert.Equal(t, StateError, r.Status("u1").State)

	_, err = r.SyncToCloud(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}
