package provenance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPSubmitterSubmit(t *testing.T) {
	var gotAuth string
	var gotPayload core.AnchorPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(core.AnchorReceipt{TxHash: "0xabc", BlockNumber: 42})
	}))
	defer server.Close()

	submitter := NewHTTPSubmitter("polygon", server.URL, "ledger-key", zap.NewNop().Sugar())
	receipt, err := submitter.Submit(context.Background(), core.AnchorPayload{
		SandboxID:  "sb-1",
		ResultHash: "deadbeef",
		Timestamp:  time.Now().UTC(),
		Signature:  "cafe",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", receipt.TxHash)
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	assert.Equal(t, "Bearer ledger-key", gotAuth)
	assert.Equal(t, "sb-1", gotPayload.SandboxID)
}

func TestHTTPSubmitterGatewayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	submitter := NewHTTPSubmitter("polygon", server.URL, "", zap.NewNop().Sugar())
	_, err := submitter.Submit(context.Background(), core.AnchorPayload{SandboxID: "sb-1"})
	assert.Error(t, err)
}

func TestHTTPSubmitterRejectsEmptyTxHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(core.AnchorReceipt{})
	}))
	defer server.Close()

	submitter := NewHTTPSubmitter("polygon", server.URL, "", zap.NewNop().Sugar())
	_, err := submitter.Submit(context.Background(), core.AnchorPayload{SandboxID: "sb-1"})
	assert.Error(t, err)
}
