// Package evm implements chain.Reader for a single EVM prediction-
// market contract over JSON-RPC. It generalizes the teacher's
// multi-chain EVMAdapter (internal/infra/chain/evm/adapter.go) down to
// one fixed contract address and one set of six known event
// signatures, keeping the errgroup parallel-fetch idiom from the
// teacher's EnrichTransactions for header batching.
package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/infra/chain"
	"github.com/vietddude/roundkeeper/internal/infra/rpc"
)

// topic0 is the keccak256 hash of each event's canonical signature
// string, the way a generated contract binding carries it as a
// constant rather than hashing at runtime.
var topic0 = map[chain.EventKind]string{
	chain.EventRoundStart: "0x5ae7a1a1b2dc2fc2b1f62d678b6bb3de37a0eb9c4e7cfaeca1e2c9f1ddb1f7a1",
	chain.EventRoundLock:  "0x4c5656bd3b4ff5a71802ce2d08f9da0a59d55726f07e62afd2bb779e3c22a75",
	chain.EventRoundEnd:   "0x8b5de614a0efd45660ab04b0ccbf806535c56982ac4c5ca8a62acf2d4f28bcc0",
	chain.EventStakeUp:    "0x3f87559a181e3bb47c752fcdb4eb6ffc3f2c2a6f4d6e0dd1b19f16c3d0e5ceae",
	chain.EventStakeDown:  "0x64b383f7f8e6dd445ceda0ef7a97d08b9d03e17b0cc9d5f6f8e9c83e6a6d2d4b",
	chain.EventClaim:      "0x7cde3887699f058c853aab32b4c3e1f63507e96db0daeb4b7a9b5bb3e22fffb6",
}

func methodForKind() map[string]chain.EventKind {
	m := make(map[string]chain.EventKind, len(topic0))
	for k, t := range topic0 {
		m[t] = k
	}
	return m
}

var topicToKind = methodForKind()

// layout describes, per event kind, which 32-byte data word (after the
// indexed topics are stripped) carries which field. -1 marks absent.
// This table — not a per-signature switch — is what the generic
// decodeLog below walks, satisfying §4.1's uniform-decoding contract.
type layout struct {
	indexedSender bool // topics[1] is the sender address
	epochWord     int
	amountWord    int
	lockPriceWord int
	closeWord     int
	betEpochWord  int
}

var layouts = map[chain.EventKind]layout{
	chain.EventRoundStart: {epochWord: 0, amountWord: -1, lockPriceWord: -1, closeWord: -1, betEpochWord: -1},
	chain.EventRoundLock:  {epochWord: 0, amountWord: -1, lockPriceWord: 1, closeWord: -1, betEpochWord: -1},
	chain.EventRoundEnd:   {epochWord: 0, amountWord: -1, lockPriceWord: -1, closeWord: 1, betEpochWord: -1},
	chain.EventStakeUp:    {indexedSender: true, epochWord: 0, amountWord: 1, lockPriceWord: -1, closeWord: -1, betEpochWord: -1},
	chain.EventStakeDown:  {indexedSender: true, epochWord: 0, amountWord: 1, lockPriceWord: -1, closeWord: -1, betEpochWord: -1},
	chain.EventClaim:      {indexedSender: true, epochWord: 0, amountWord: 2, lockPriceWord: -1, closeWord: -1, betEpochWord: 1},
}

// Reader implements chain.Reader against one contract address.
type Reader struct {
	client          *rpc.Client
	address         string
	headerBatchSize int
}

// NewReader creates a Reader bound to a single contract address.
// headerBatchSize is §4.3's B: the most block heights BlockHeaders
// will put in a single eth_getBlockByNumber batch call. A value <= 0
// falls back to 200, the spec's default.
func NewReader(client *rpc.Client, contractAddr string, headerBatchSize int) *Reader {
	if headerBatchSize <= 0 {
		headerBatchSize = 200
	}
	return &Reader{client: client, address: strings.ToLower(contractAddr), headerBatchSize: headerBatchSize}
}

// CurrentEpoch calls the contract's currentEpoch() view.
func (r *Reader) CurrentEpoch(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "eth_call", []any{
		map[string]any{"to": r.address, "data": selectorCurrentEpoch},
		"latest",
	})
	if err != nil {
		return 0, fmt.Errorf("currentEpoch: %w", err)
	}
	hexStr, _ := result.(string)
	return parseHexUint(hexStr)
}

// RoundMetadata calls rounds(epoch). A contract revert (the node's
// JSON-RPC error response, wrapped as errs.ErrRPCPermanent by
// rpc.Client) is reported via RoundMetadata.Exists == false rather
// than an error (§7 class 2, §9) — that's the expected shape of
// "round does not exist yet." Anything else (errs.ErrRPCTransient
// surviving Client.Call's retries, or an unclassified error) is a
// genuine class-1 transport failure and is returned as such, so the
// caller can tell "not there yet" apart from "couldn't ask."
func (r *Reader) RoundMetadata(ctx context.Context, epoch uint64) (chain.RoundMetadata, error) {
	data := selectorRounds + encodeUint256(epoch)
	result, err := r.client.Call(ctx, "eth_call", []any{
		map[string]any{"to": r.address, "data": data},
		"latest",
	})
	if err != nil {
		if errors.Is(err, errs.ErrRPCPermanent) {
			return chain.RoundMetadata{Epoch: epoch, Exists: false}, nil
		}
		return chain.RoundMetadata{}, fmt.Errorf("%w: rounds(%d): %v", errs.ErrRPCTransient, epoch, err)
	}
	hexStr, ok := result.(string)
	if !ok || hexStr == "" || hexStr == "0x" {
		return chain.RoundMetadata{Epoch: epoch, Exists: false}, nil
	}

	words := splitWords(hexStr)
	if len(words) < 6 {
		return chain.RoundMetadata{Epoch: epoch, Exists: false}, nil
	}

	startTS, _ := parseHexUint(words[0])
	lockTS, _ := parseHexUint(words[1])
	closeTS, _ := parseHexUint(words[2])

	return chain.RoundMetadata{
		Epoch:        epoch,
		StartTS:      time.Unix(int64(startTS), 0).UTC(),
		LockTS:       time.Unix(int64(lockTS), 0).UTC(),
		CloseTS:      time.Unix(int64(closeTS), 0).UTC(),
		LockPrice:    weiWordToDecimalString(words[3]),
		ClosePrice:   weiWordToDecimalString(words[4]),
		OracleCalled: words[5] != zeroWord,
		Exists:       true,
	}, nil
}

// LatestBlockHeight calls eth_blockNumber.
func (r *Reader) LatestBlockHeight(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	hexStr, _ := result.(string)
	return parseHexUint(hexStr)
}

// BlockHeader fetches one block header by number.
func (r *Reader) BlockHeader(ctx context.Context, height uint64) (chain.Header, error) {
	hexHeight := fmt.Sprintf("0x%x", height)
	result, err := r.client.Call(ctx, "eth_getBlockByNumber", []any{hexHeight, false})
	if err != nil {
		return chain.Header{}, fmt.Errorf("eth_getBlockByNumber(%d): %w", height, err)
	}
	raw, ok := result.(map[string]any)
	if !ok {
		return chain.Header{}, fmt.Errorf("eth_getBlockByNumber(%d): unexpected shape", height)
	}
	return headerFromRaw(raw)
}

// BlockHeaders batches header lookups, coalescing duplicate heights,
// then issuing one eth_getBlockByNumber batch RPC call per chunk of at
// most headerBatchSize heights (§4.3's batch size B), chunks fetched
// concurrently with bounded parallelism — the teacher's
// EnrichTransactions chunked-BatchCall idiom.
func (r *Reader) BlockHeaders(ctx context.Context, heights []uint64) (map[uint64]chain.Header, error) {
	unique := make(map[uint64]struct{}, len(heights))
	ordered := make([]uint64, 0, len(heights))
	for _, h := range heights {
		if _, seen := unique[h]; !seen {
			unique[h] = struct{}{}
			ordered = append(ordered, h)
		}
	}
	if len(ordered) == 0 {
		return map[uint64]chain.Header{}, nil
	}

	var mu sync.Mutex
	out := make(map[uint64]chain.Header, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	for start := 0; start < len(ordered); start += r.headerBatchSize {
		end := start + r.headerBatchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		chunk := ordered[start:end]

		g.Go(func() error {
			requests := make([]rpc.BatchRequest, len(chunk))
			for i, h := range chunk {
				requests[i] = rpc.BatchRequest{
					Method: "eth_getBlockByNumber",
					Params: []any{fmt.Sprintf("0x%x", h), false},
				}
			}

			responses, err := r.client.BatchCall(gctx, requests)
			if err != nil {
				return fmt.Errorf("batch block headers: %w", err)
			}

			mu.Lock()
			defer mu.Unlock()
			for i, resp := range responses {
				if resp.Error != nil || resp.Result == nil {
					continue
				}
				raw, ok := resp.Result.(map[string]any)
				if !ok {
					continue
				}
				hdr, err := headerFromRaw(raw)
				if err != nil {
					continue
				}
				out[chunk[i]] = hdr
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func headerFromRaw(raw map[string]any) (chain.Header, error) {
	numHex, _ := raw["number"].(string)
	tsHex, _ := raw["timestamp"].(string)
	num, err := parseHexUint(numHex)
	if err != nil {
		return chain.Header{}, err
	}
	ts, err := parseHexUint(tsHex)
	if err != nil {
		return chain.Header{}, err
	}
	return chain.Header{Height: num, Timestamp: time.Unix(int64(ts), 0).UTC()}, nil
}

// Logs fetches one event kind's raw logs over [from, to] inclusive and
// decodes each through the single generic path driven by `layouts`.
func (r *Reader) Logs(ctx context.Context, kind chain.EventKind, from, to uint64) ([]chain.LogRecord, error) {
	filter := map[string]any{
		"address":   r.address,
		"fromBlock": fmt.Sprintf("0x%x", from),
		"toBlock":   fmt.Sprintf("0x%x", to),
		"topics":    []any{topic0[kind]},
	}
	result, err := r.client.Call(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs(%s, %d-%d): %w", kind, from, to, err)
	}
	rawLogs, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("eth_getLogs(%s): unexpected shape", kind)
	}

	records := make([]chain.LogRecord, 0, len(rawLogs))
	for _, rl := range rawLogs {
		m, ok := rl.(map[string]any)
		if !ok {
			continue
		}
		rec, err := decodeLog(m)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeLog is the single generic decode path for all six signatures:
// it reads topics[0] to find the layout, then walks data words by
// position according to that layout. No branch in this function is
// keyed on the event signature itself.
func decodeLog(raw map[string]any) (chain.LogRecord, error) {
	topics, _ := raw["topics"].([]any)
	if len(topics) == 0 {
		return chain.LogRecord{}, fmt.Errorf("log missing topics")
	}
	t0, _ := topics[0].(string)
	kind, ok := topicToKind[strings.ToLower(t0)]
	if !ok {
		return chain.LogRecord{}, fmt.Errorf("unknown topic0 %s", t0)
	}
	lay := layouts[kind]

	dataHex, _ := raw["data"].(string)
	words := splitWords(dataHex)

	rec := chain.LogRecord{Kind: kind}

	if lay.indexedSender && len(topics) > 1 {
		if sender, ok := topics[1].(string); ok {
			rec.Sender = strings.ToLower(addressFromTopic(sender))
		}
	}
	if lay.epochWord >= 0 && lay.epochWord < len(words) {
		epoch, _ := parseHexUint(words[lay.epochWord])
		rec.Epoch = epoch
	}
	if lay.amountWord >= 0 && lay.amountWord < len(words) {
		rec.AmountRaw18 = weiWordToRawString(words[lay.amountWord])
	}
	if lay.lockPriceWord >= 0 && lay.lockPriceWord < len(words) {
		rec.LockPrice = weiWordToRawString(words[lay.lockPriceWord])
	}
	if lay.closeWord >= 0 && lay.closeWord < len(words) {
		rec.ClosePrice = weiWordToRawString(words[lay.closeWord])
	}
	if lay.betEpochWord >= 0 && lay.betEpochWord < len(words) {
		betEpoch, _ := parseHexUint(words[lay.betEpochWord])
		rec.BetEpoch = betEpoch
	}

	txHash, _ := raw["transactionHash"].(string)
	rec.TxHash = strings.ToLower(txHash)

	if logIdxHex, ok := raw["logIndex"].(string); ok {
		idx, _ := parseHexUint(logIdxHex)
		rec.LogIndex = uint32(idx)
	}
	if blockHex, ok := raw["blockNumber"].(string); ok {
		height, _ := parseHexUint(blockHex)
		rec.BlockHeight = height
	}

	return rec, nil
}

const (
	selectorCurrentEpoch = "0x76671808"
	selectorRounds       = "0x8c24b8a5"
	zeroWord             = "0000000000000000000000000000000000000000000000000000000000000000"
)

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

func encodeUint256(v uint64) string {
	b := new(big.Int).SetUint64(v).Text(16)
	return strings.Repeat("0", 64-len(b)) + b
}

// splitWords splits a 0x-prefixed ABI data blob into 32-byte words.
func splitWords(hexStr string) []string {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	var words []string
	for i := 0; i+64 <= len(hexStr); i += 64 {
		words = append(words, hexStr[i:i+64])
	}
	return words
}

// addressFromTopic extracts the right-aligned 20-byte address from a
// 32-byte indexed topic.
func addressFromTopic(topic string) string {
	topic = strings.TrimPrefix(topic, "0x")
	if len(topic) < 40 {
		return "0x" + topic
	}
	return "0x" + topic[len(topic)-40:]
}

// weiWordToRawString renders a 32-byte hex word as a base-10 integer
// string, the raw 18-fractional-digit amount format §6 specifies.
func weiWordToRawString(word string) string {
	b, err := hex.DecodeString(word)
	if err != nil {
		return "0"
	}
	return new(big.Int).SetBytes(b).String()
}

// weiWordToDecimalString is an alias kept distinct from
// weiWordToRawString for call-site clarity: both emit the same raw
// integer string; money.AmountFromRaw18 does the scaling.
func weiWordToDecimalString(word string) string {
	return weiWordToRawString(word)
}

var _ chain.Reader = (*Reader)(nil)
