package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/btcsuite/btcutil/base58"
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

func testWallet(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub), priv
}

func TestChallengeAndVerifyHappyPath(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	wallet, priv := testWallet(t)

	ch, err := svc.IssueChallenge(context.Background(), wallet)
	require.NoError(t, err)
	require.NotEmpty(t, ch.Nonce)

	sig := ed25519.Sign(priv, []byte(ch.Challenge))
	res, err := svc.Verify(context.Background(), wallet, ch.Nonce, base58.Encode(sig))
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)

	gotWallet, err := svc.WalletForToken(context.Background(), res.Token)
	require.NoError(t, err)
	require.Equal(t, wallet, gotWallet)
}

func TestVerifyRejectsWrongSignature(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	wallet, _ := testWallet(t)
	_, otherPriv := testWallet(t)

	ch, err := svc.IssueChallenge(context.Background(), wallet)
	require.NoError(t, err)

	badSig := ed25519.Sign(otherPriv, []byte(ch.Challenge))
	_, err = svc.Verify(context.Background(), wallet, ch.Nonce, base58.Encode(badSig))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsUnknownNonce(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	wallet, priv := testWallet(t)
	sig := ed25519.Sign(priv, []byte("whatever"))
	_, err := svc.Verify(context.Background(), wallet, "nonexistent", base58.Encode(sig))
	require.ErrorIs(t, err, ErrNonceNotFound)
}

func TestVerifyRejectsWalletMismatch(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	wallet, priv := testWallet(t)
	otherWallet, _ := testWallet(t)

	ch, err := svc.IssueChallenge(context.Background(), wallet)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(ch.Challenge))
	_, err = svc.Verify(context.Background(), otherWallet, ch.Nonce, base58.Encode(sig))
	require.ErrorIs(t, err, ErrWalletMismatch)
}

func TestVerifyRejectsExpiredChallenge(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	base := time.Now()
	svc.now = func() time.Time { return base }
	wallet, priv := testWallet(t)

	ch, err := svc.IssueChallenge(context.Background(), wallet)
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(store.TTLAuthNonce + time.Second) }
	sig := ed25519.Sign(priv, []byte(ch.Challenge))
	_, err = svc.Verify(context.Background(), wallet, ch.Nonce, base58.Encode(sig))
	require.ErrorIs(t, err, ErrNonceNotFound)
}

func TestIssueChallengeRejectsInvalidWallet(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	_, err := svc.IssueChallenge(context.Background(), "not-a-valid-wallet!!")
	require.ErrorIs(t, err, ErrInvalidWallet)
}
