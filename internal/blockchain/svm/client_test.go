package svm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"escrow/offchain/internal/models"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newFakeRPC serves JSON-RPC requests by method name
func newFakeRPC(t *testing.T, handlers map[string]func(params []json.RawMessage) interface{}) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler, ok := handlers[req.Method]
		if !ok {
			t.Errorf("unexpected RPC method %s", req.Method)
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handler(req.Params),
		})
	}))
	t.Cleanup(srv.Close)

	return &Client{
		rpc:          rpc.New(srv.URL),
		programID:    testProgramID,
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: 5 * time.Millisecond,
		logger:       zap.NewNop(),
	}
}

func signatureStatuses(status interface{}) interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   []interface{}{status},
	}
}

func accountInfo(value interface{}) interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   value,
	}
}

func TestClient_WaitForConfirmation(t *testing.T) {
	var polls int32
	client := newFakeRPC(t, map[string]func([]json.RawMessage) interface{}{
		"getSignatureStatuses": func([]json.RawMessage) interface{} {
			if atomic.AddInt32(&polls, 1) < 3 {
				return signatureStatuses(nil)
			}
			return signatureStatuses(map[string]interface{}{
				"slot":               10,
				"confirmations":      nil,
				"err":                nil,
				"confirmationStatus": "confirmed",
			})
		},
	})

	err := client.WaitForConfirmation(context.Background(), solana.Signature{1}, time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestClient_WaitForConfirmationTimeout(t *testing.T) {
	client := newFakeRPC(t, map[string]func([]json.RawMessage) interface{}{
		"getSignatureStatuses": func([]json.RawMessage) interface{} {
			return signatureStatuses(nil)
		},
	})

	err := client.WaitForConfirmation(context.Background(), solana.Signature{1}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindConfirmationTimeout, models.KindOf(err))
	assert.True(t, errors.Is(err, models.ErrConfirmationTimeout))
}

func TestClient_WaitForConfirmationCancelled(t *testing.T) {
	client := newFakeRPC(t, map[string]func([]json.RawMessage) interface{}{
		"getSignatureStatuses": func([]json.RawMessage) interface{} {
			return signatureStatuses(nil)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := client.WaitForConfirmation(ctx, solana.Signature{1}, time.Minute)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindUnclassified, models.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_WaitForConfirmationFailedTransaction(t *testing.T) {
	client := newFakeRPC(t, map[string]func([]json.RawMessage) interface{}{
		"getSignatureStatuses": func([]json.RawMessage) interface{} {
			return signatureStatuses(map[string]interface{}{
				"slot":               10,
				"confirmations":      nil,
				"err":                instructionError(0, map[string]interface{}{"Custom": 6000}),
				"confirmationStatus": "confirmed",
			})
		},
	})

	err := client.WaitForConfirmation(context.Background(), solana.Signature{1}, time.Second)
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindEscrowExpired, models.KindOf(err))
}

func TestClient_GetEscrow(t *testing.T) {
	record := &models.EscrowRecord{
		Maker:            testMaker,
		Seed:             7,
		MakerTokenMint:   testUSDC,
		TakerTokenMint:   testSOL,
		MakerTokenAmount: 1,
		TakerTokenAmount: 2,
		Expiry:           3,
		Bump:             255,
	}
	data, err := EncodeEscrowAccount(record)
	require.NoError(t, err)

	existing := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	client := newFakeRPC(t, map[string]func([]json.RawMessage) interface{}{
		"getAccountInfo": func(params []json.RawMessage) interface{} {
			var address string
			_ = json.Unmarshal(params[0], &address)
			if address != existing.String() {
				return accountInfo(nil)
			}
			return accountInfo(map[string]interface{}{
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"lamports":   1_000_000,
				"owner":      testProgramID.String(),
				"rentEpoch":  0,
			})
		},
	})

	got, err := client.GetEscrow(context.Background(), existing)
	require.NoError(t, err)
	assert.Equal(t, record, got)

	_, err = client.GetEscrow(context.Background(), testMaker)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEscrowNotFound)
	assert.Equal(t, models.ErrorKindAlreadyTaken, models.KindOf(err))

	exists, err := client.AccountExists(context.Background(), existing)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.AccountExists(context.Background(), testMaker)
	require.NoError(t, err)
	assert.False(t, exists)
}
