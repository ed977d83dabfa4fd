package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testProgramID() [32]byte {
	return mustDecodeBase58Pubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
}

func testMint() [32]byte {
	return mustDecodeBase58Pubkey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
}

func TestBuildTopupIntentEncodesAmountAndDiscriminator(t *testing.T) {
	programID := testProgramID()
	mint := testMint()
	treasury := programID // the program id reused as an arbitrary 32-byte treasury

	svc := NewCreditService(NewRPCClient("http://unused.invalid"), programID, mint, treasury, nil)

	var wallet [32]byte
	for i := range wallet {
		wallet[i] = byte(200 + i%50)
	}

	intent, err := svc.BuildTopupIntent(wallet, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(500000), intent.AmountBaseUnits)
	require.Equal(t, CreditUnit, intent.CreditUnit)

	raw, err := base64.StdEncoding.DecodeString(intent.InstructionData)
	require.NoError(t, err)
	require.Len(t, raw, 16) // 8-byte discriminator + 8-byte amount
	require.Equal(t, InstructionDiscriminator("pay_usdc"), raw[:8])
	require.Equal(t, uint64(500000), binary.LittleEndian.Uint64(raw[8:]))
}

func TestBuildTopupIntentRejectsNonPositive(t *testing.T) {
	svc := NewCreditService(nil, testProgramID(), testMint(), testProgramID(), nil)
	var wallet [32]byte
	_, err := svc.BuildTopupIntent(wallet, 0)
	require.Error(t, err)
}

// fakeAccountInfoRPC serves a single getAccountInfo response carrying
// a well-formed UserCredit account for the given owner/credits.
func fakeAccountInfoRPC(t *testing.T, owner [32]byte, credits uint64) *httptest.Server {
	t.Helper()
	data := make([]byte, 48)
	copy(data[0:8], AccountDiscriminator("UserCredit"))
	copy(data[8:40], owner[:])
	binary.LittleEndian.PutUint64(data[40:48], credits)
	b64 := base64.StdEncoding.EncodeToString(data)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "getAccountInfo":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"data":["%s","base64"],"owner":"x"}}}`, b64)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
}

func TestBalanceOfReadsDiscriminatorAndOwner(t *testing.T) {
	var wallet [32]byte
	for i := range wallet {
		wallet[i] = byte(i + 1)
	}
	srv := fakeAccountInfoRPC(t, wallet, 42)
	defer srv.Close()

	svc := NewCreditService(NewRPCClient(srv.URL), testProgramID(), testMint(), testProgramID(), nil)
	credits, err := svc.BalanceOfFresh(context.Background(), wallet)
	require.NoError(t, err)
	require.Equal(t, uint64(42), credits)
}

func TestBalanceOfReportsZeroOnOwnerMismatch(t *testing.T) {
	var storedOwner, queriedWallet [32]byte
	for i := range storedOwner {
		storedOwner[i] = byte(i + 1)
		queriedWallet[i] = byte(i + 2)
	}
	srv := fakeAccountInfoRPC(t, storedOwner, 42)
	defer srv.Close()

	svc := NewCreditService(NewRPCClient(srv.URL), testProgramID(), testMint(), testProgramID(), nil)
	credits, err := svc.BalanceOfFresh(context.Background(), queriedWallet)
	require.NoError(t, err)
	require.Equal(t, uint64(0), credits)
}
