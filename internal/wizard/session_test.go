package wizard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionline/internal/domain"
	"missionline/internal/wizard"
)

func newManager(t *testing.T, store wizard.Store) *wizard.Manager {
	t.Helper()
	return wizard.NewManager(store, func() *wizard.Machine { return newMachine(t, false) }, nil)
}

func TestSessionPersistsEveryChange(t *testing.T) {
	ctx := context.Background()
	store := wizard.NewMemoryStore()
	sess, err := newManager(t, store).Create(ctx, "alice")
	require.NoError(t, err)

	_, err = sess.Apply(ctx, wizard.Action{Action: wizard.ActionSetPlatform, Value: "twitter"})
	require.NoError(t, err)
	st, err := sess.Apply(ctx, wizard.Action{Action: wizard.ActionNext})
	require.NoError(t, err)
	assert.Equal(t, wizard.StepModel, st.CurrentStep)

	snap, err := store.Load(ctx, wizard.SlotKey("alice", sess.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTwitter, snap.Platform)
	assert.Equal(t, wizard.StepModel, snap.CurrentStep)
}

func TestManagerResumesFromStore(t *testing.T) {
	ctx := context.Background()
	store := wizard.NewMemoryStore()
	first, err := newManager(t, store).Create(ctx, "alice")
	require.NoError(t, err)
	fillFixed(t, first.Machine())
	require.NoError(t, store.Save(ctx, wizard.SlotKey("alice", first.ID), first.Machine().Snapshot()))

	resumed, err := newManager(t, store).Get(ctx, "alice", first.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepReview, resumed.State().CurrentStep)
	assert.Equal(t, []string{"like", "retweet"}, resumed.State().Tasks)
}

func TestManagerReturnsLiveSession(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, wizard.NewMemoryStore())
	sess, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	again, err := mgr.Get(ctx, "alice", sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, again)
}

func TestManagerScopesByOwner(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, wizard.NewMemoryStore())
	sess, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = mgr.Get(ctx, "mallory", sess.ID)
	require.ErrorIs(t, err, wizard.ErrSessionNotFound)
	assert.Equal(t, "alice", sess.Owner)
}

func TestManagerUnknownAndDeleted(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, wizard.NewMemoryStore())
	_, err := mgr.Get(ctx, "alice", "missing")
	require.ErrorIs(t, err, wizard.ErrSessionNotFound)

	sess, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, "alice", sess.ID))
	_, err = mgr.Get(ctx, "alice", sess.ID)
	require.ErrorIs(t, err, wizard.ErrSessionNotFound)
}

func TestSessionSubmitSavesResetState(t *testing.T) {
	ctx := context.Background()
	store := wizard.NewMemoryStore()
	sess, err := newManager(t, store).Create(ctx, "alice")
	require.NoError(t, err)
	fillFixed(t, sess.Machine())

	mission, err := sess.Submit(ctx, wizard.SubmitterFunc(
		func(_ context.Context, req domain.MissionRequest) (domain.Mission, error) {
			return domain.Mission{ID: "m-9", Request: req}, nil
		}))
	require.NoError(t, err)
	assert.Equal(t, "m-9", mission.ID)

	snap, err := store.Load(ctx, wizard.SlotKey("alice", sess.ID))
	require.NoError(t, err)
	assert.Equal(t, wizard.StepPlatform, snap.CurrentStep)
	assert.Empty(t, snap.Tasks)
}

func TestSubmitReleasesLiveSession(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, wizard.NewMemoryStore())
	sess, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	fillFixed(t, sess.Machine())
	require.Equal(t, 1, mgr.Live())

	_, err = sess.Submit(ctx, wizard.SubmitterFunc(
		func(_ context.Context, req domain.MissionRequest) (domain.Mission, error) {
			return domain.Mission{ID: "m-1", Request: req}, nil
		}))
	require.NoError(t, err)
	assert.Equal(t, 0, mgr.Live())

	again, err := mgr.Get(ctx, "alice", sess.ID)
	require.NoError(t, err)
	assert.NotSame(t, sess, again)
	assert.Equal(t, wizard.StepPlatform, again.State().CurrentStep)
}

func TestFailedSubmitKeepsLiveSession(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, wizard.NewMemoryStore())
	sess, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	fillFixed(t, sess.Machine())

	_, err = sess.Submit(ctx, wizard.SubmitterFunc(
		func(context.Context, domain.MissionRequest) (domain.Mission, error) {
			return domain.Mission{}, assert.AnError
		}))
	require.ErrorIs(t, err, assert.AnError)

	again, err := mgr.Get(ctx, "alice", sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, again)
}

func TestIdleSessionsArePruned(t *testing.T) {
	ctx := context.Background()
	var (
		mu  sync.Mutex
		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	store := wizard.NewMemoryStore()
	mgr := wizard.NewManager(store, func() *wizard.Machine { return newMachine(t, false) }, nil,
		wizard.WithIdleTimeout(time.Minute), wizard.WithClock(clock))

	stale, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = stale.Apply(ctx, wizard.Action{Action: wizard.ActionSetPlatform, Value: "tiktok"})
	require.NoError(t, err)
	advance(2 * time.Minute)

	_, err = mgr.Create(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Live())

	resumed, err := mgr.Get(ctx, "alice", stale.ID)
	require.NoError(t, err)
	assert.NotSame(t, stale, resumed)
	assert.Equal(t, domain.PlatformTikTok, resumed.State().Platform)
	assert.Equal(t, 2, mgr.Live())
}

func TestConcurrentGetSharesOneSession(t *testing.T) {
	ctx := context.Background()
	store := wizard.NewMemoryStore()
	first, err := newManager(t, store).Create(ctx, "alice")
	require.NoError(t, err)

	mgr := newManager(t, store)
	const n = 16
	got := make([]*wizard.Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := mgr.Get(ctx, "alice", first.ID)
			assert.NoError(t, err)
			got[i] = sess
		}(i)
	}
	wg.Wait()
	for _, sess := range got {
		assert.Same(t, got[0], sess)
	}
	assert.Equal(t, 1, mgr.Live())
}
