package artifact

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kangklip/kangklip-server/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	s, err := store.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	return s
}

func TestResolveRejectsUnfinishedJob(t *testing.T) {
	st := newTestStore(t)
	gate := NewGate(st, nil)
	require.NoError(t, st.CreateJob(context.Background(), &store.JobRecord{JobID: "kk_1", Status: store.JobRunning}))

	_, err := gate.resolve(context.Background(), "kk_1", "clip_1.mp4")
	require.ErrorIs(t, err, ErrJobNotReady)
}

func TestResolveRejectsMissingR2Prefix(t *testing.T) {
	st := newTestStore(t)
	gate := NewGate(st, nil)
	require.NoError(t, st.CreateJob(context.Background(), &store.JobRecord{JobID: "kk_1", Status: store.JobSucceeded}))

	_, err := gate.resolve(context.Background(), "kk_1", "clip_1.mp4")
	require.ErrorIs(t, err, ErrJobNotReady)
}

func TestClipIsLockedUntilUnlocked(t *testing.T) {
	st := newTestStore(t)
	unlocked, err := st.IsClipUnlocked(context.Background(), "kk_1", "clip_1.mp4")
	require.NoError(t, err)
	require.False(t, unlocked)
}
