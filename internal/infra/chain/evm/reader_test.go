package evm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/infra/chain"
	"github.com/vietddude/roundkeeper/internal/infra/rpc"
)

func wordFor(n uint64) string {
	return encodeUint256(n)
}

func TestDecodeLogStakeUp(t *testing.T) {
	raw := map[string]any{
		"topics": []any{
			topic0[chain.EventStakeUp],
			"0x000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"data":            "0x" + wordFor(426236) + wordFor(3000000000000000000),
		"transactionHash": "0xDEADBEEF",
		"logIndex":        "0x2",
		"blockNumber":     "0x64",
	}
	rec, err := decodeLog(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Kind != chain.EventStakeUp {
		t.Fatalf("got kind %v", rec.Kind)
	}
	if rec.Epoch != 426236 {
		t.Fatalf("got epoch %d, want 426236", rec.Epoch)
	}
	if rec.Sender != "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("got sender %s", rec.Sender)
	}
	if rec.AmountRaw18 != "3000000000000000000" {
		t.Fatalf("got amount %s", rec.AmountRaw18)
	}
	if rec.LogIndex != 2 || rec.BlockHeight != 100 {
		t.Fatalf("got logIndex=%d blockHeight=%d", rec.LogIndex, rec.BlockHeight)
	}
}

func TestDecodeLogClaim(t *testing.T) {
	raw := map[string]any{
		"topics": []any{
			topic0[chain.EventClaim],
			"0x000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		},
		"data": "0x" + wordFor(426238) + wordFor(426236) + wordFor(3876000000000000000),
	}
	rec, err := decodeLog(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Epoch != 426238 {
		t.Fatalf("got epoch %d, want 426238", rec.Epoch)
	}
	if rec.BetEpoch != 426236 {
		t.Fatalf("got bet epoch %d, want 426236", rec.BetEpoch)
	}
	if rec.AmountRaw18 != "3876000000000000000" {
		t.Fatalf("got amount %s", rec.AmountRaw18)
	}
}

func TestDecodeLogUnknownTopic(t *testing.T) {
	raw := map[string]any{
		"topics": []any{"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
		"data":   "0x",
	}
	if _, err := decodeLog(raw); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}

// TestBlockHeadersChunksByBatchSize asserts that a height set larger
// than headerBatchSize is split across multiple batch RPC calls rather
// than sent as one unbounded request, per §4.3's batch size B.
func TestBlockHeadersChunksByBatchSize(t *testing.T) {
	var batchCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []map[string]any
		json.NewDecoder(r.Body).Decode(&reqs)
		atomic.AddInt32(&batchCalls, 1)
		if len(reqs) > 2 {
			t.Errorf("got a batch of %d requests, want at most 2 (headerBatchSize)", len(reqs))
		}
		resp := make([]map[string]any, len(reqs))
		for i, req := range reqs {
			params, _ := req["params"].([]any)
			heightHex, _ := params[0].(string)
			resp[i] = map[string]any{
				"jsonrpc": "2.0",
				"id":      i + 1,
				"result": map[string]any{
					"number":    heightHex,
					"timestamp": "0x5f5e100",
				},
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := rpc.NewClient(srv.URL, 5*time.Second)
	r := NewReader(client, "0xcontract", 2)

	heights := []uint64{1, 1, 2, 3, 4, 5}
	headers, err := r.BlockHeaders(context.Background(), heights)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(headers) != 5 {
		t.Fatalf("got %d distinct headers, want 5", len(headers))
	}
	// 5 distinct heights at batch size 2 -> 3 chunks -> 3 batch calls.
	if got := atomic.LoadInt32(&batchCalls); got != 3 {
		t.Fatalf("got %d batch calls, want 3", got)
	}
}

// TestRoundMetadataRevertReportsNotExists asserts that a contract revert
// (a JSON-RPC error-object response, which rpc.Client classifies as
// errs.ErrRPCPermanent) surfaces as RoundMetadata.Exists == false with a
// nil error, since that's the expected shape of "round does not exist
// yet," not a transport failure.
func TestRoundMetadataRevertReportsNotExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"message": "execution reverted"},
		})
	}))
	defer srv.Close()

	client := rpc.NewClient(srv.URL, 5*time.Second)
	r := NewReader(client, "0xcontract", 200)

	meta, err := r.RoundMetadata(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Exists {
		t.Fatal("expected Exists=false for a reverted rounds() call")
	}
}

// TestRoundMetadataTransientFailureReturnsErrRPCTransient asserts that a
// persistent transport failure (exhausting Client.Call's retries) is
// returned as a genuine error wrapping errs.ErrRPCTransient, distinct
// from the revert case above.
func TestRoundMetadataTransientFailureReturnsErrRPCTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := rpc.NewClient(srv.URL, 5*time.Second)
	r := NewReader(client, "0xcontract", 200)

	_, err := r.RoundMetadata(context.Background(), 10)
	if err == nil {
		t.Fatal("expected an error after exhausting retries against a persistently failing endpoint")
	}
	if !errors.Is(err, errs.ErrRPCTransient) {
		t.Fatalf("expected errs.ErrRPCTransient, got %v", err)
	}
	if errors.Is(err, errs.ErrRPCPermanent) {
		t.Fatalf("a transport failure must not classify as errs.ErrRPCPermanent, got %v", err)
	}
}
