package unlock

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kangklip/kangklip-server/internal/chain"
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

func testWalletAddr() string {
	var w [32]byte
	for i := range w {
		w[i] = byte(i + 5)
	}
	return chain.EncodePubkey(w)
}

func TestUnlockInsufficientCredits(t *testing.T) {
	st := newTestStore(t)
	// Fake RPC node: the wallet's credit account does not exist, so the
	// fresh funding check reads 0 credits.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":null}}`))
	}))
	t.Cleanup(srv.Close)
	rpc := chain.NewRPCClient(srv.URL)
	var programID, mint, treasury [32]byte
	svc := chain.NewCreditService(rpc, programID, mint, treasury, nil)
	coord := NewCoordinator(st, svc)

	req := Request{JobID: "kk_1", ClipFile: "clip_1.mp4", Wallet: testWalletAddr(), UnlockRequestID: "R1"}

	_, err := coord.Unlock(context.Background(), req)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	res, err := st.GetIdempotencyResult(context.Background(), req.UnlockRequestID)
	require.NoError(t, err)
	require.Equal(t, store.IdempotencyFinal, res.Status)
	require.False(t, res.Unlocked)
	require.Equal(t, 0, res.ChargedCredits)

	unlocked, err := st.IsClipUnlocked(context.Background(), req.JobID, req.ClipFile)
	require.NoError(t, err)
	require.False(t, unlocked)
}

func TestUnlockFastPathAlreadyUnlocked(t *testing.T) {
	st := newTestStore(t)
	rpc := chain.NewRPCClient("http://unused.invalid")
	var programID, mint, treasury [32]byte
	svc := chain.NewCreditService(rpc, programID, mint, treasury, nil)
	coord := NewCoordinator(st, svc)

	req := Request{JobID: "kk_1", ClipFile: "clip_1.mp4", Wallet: testWalletAddr(), UnlockRequestID: "R1"}
	require.NoError(t, st.SetClipUnlocked(context.Background(), req.JobID, req.ClipFile))

	res, err := coord.Unlock(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Unlocked)
	require.Equal(t, 0, res.ChargedCredits)
	require.Equal(t, store.IdempotencyReplay, res.Idempotency)
}

func TestUnlockFastPathIdempotentReplay(t *testing.T) {
	st := newTestStore(t)
	rpc := chain.NewRPCClient("http://unused.invalid")
	var programID, mint, treasury [32]byte
	svc := chain.NewCreditService(rpc, programID, mint, treasury, nil)
	coord := NewCoordinator(st, svc)

	req := Request{JobID: "kk_1", ClipFile: "clip_1.mp4", Wallet: testWalletAddr(), UnlockRequestID: "R1"}
	final := &store.IdempotencyResult{Unlocked: true, ChargedCredits: 1, Idempotency: store.IdempotencyNew, Status: store.IdempotencyFinal}
	require.NoError(t, st.SetIdempotencyResult(context.Background(), req.UnlockRequestID, final))

	res, err := coord.Unlock(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, final.ChargedCredits, res.ChargedCredits)
}

func TestUnlockFastPathPendingReturnsInProgress(t *testing.T) {
	st := newTestStore(t)
	rpc := chain.NewRPCClient("http://unused.invalid")
	var programID, mint, treasury [32]byte
	svc := chain.NewCreditService(rpc, programID, mint, treasury, nil)
	coord := NewCoordinator(st, svc)

	req := Request{JobID: "kk_1", ClipFile: "clip_1.mp4", Wallet: testWalletAddr(), UnlockRequestID: "R1"}
	_, _, err := st.SetIdempotencyResultIfAbsent(context.Background(), req.UnlockRequestID, &store.IdempotencyResult{Status: store.IdempotencyPending})
	require.NoError(t, err)

	_, err = coord.Unlock(context.Background(), req)
	require.ErrorIs(t, err, ErrInProgress)
}

func TestUnlockRecoversFromPendingMarker(t *testing.T) {
	st := newTestStore(t)
	rpc := chain.NewRPCClient("http://unused.invalid")
	var programID, mint, treasury [32]byte
	svc := chain.NewCreditService(rpc, programID, mint, treasury, nil)
	coord := NewCoordinator(st, svc)

	req := Request{JobID: "kk_1", ClipFile: "clip_1.mp4", Wallet: testWalletAddr(), UnlockRequestID: "R1"}
	require.NoError(t, st.SetUnlockPending(context.Background(), req.UnlockRequestID, &store.UnlockPending{
		JobID: req.JobID, ClipFile: req.ClipFile, Wallet: req.Wallet, TxSig: "sig123",
	}))

	res, err := coord.Unlock(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Unlocked)
	require.Equal(t, 0, res.ChargedCredits)
	require.Equal(t, store.IdempotencyReplay, res.Idempotency)

	unlocked, err := st.IsClipUnlocked(context.Background(), req.JobID, req.ClipFile)
	require.NoError(t, err)
	require.True(t, unlocked)

	_, err = st.GetUnlockPending(context.Background(), req.UnlockRequestID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnlockConcurrentBeginOnlyOneWinsPending(t *testing.T) {
	st := newTestStore(t)
	rpc := chain.NewRPCClient("http://unused.invalid")
	var programID, mint, treasury [32]byte
	svc := chain.NewCreditService(rpc, programID, mint, treasury, nil)
	coord := NewCoordinator(st, svc)
	_ = coord

	req := Request{JobID: "kk_1", ClipFile: "clip_1.mp4", Wallet: testWalletAddr(), UnlockRequestID: "R1"}

	var wg sync.WaitGroup
	wins := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, wasSet, err := st.SetIdempotencyResultIfAbsent(context.Background(), req.UnlockRequestID, &store.IdempotencyResult{Status: store.IdempotencyPending})
			require.NoError(t, err)
			wins[idx] = wasSet
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	require.Equal(t, 1, winners)
}
