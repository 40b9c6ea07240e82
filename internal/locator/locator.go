// Package locator implements the Block Locator (C2): mapping a
// wall-clock timestamp to a block height with bounded binary search,
// seeded-stride estimation, and a TTL-cached multi-sample regression
// fallback, per spec §4.2. The contract exposes no (timestamp -> block)
// index; this package exists to minimize RPC round-trips in finding one.
package locator

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/config"
	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/infra/chain"
	"github.com/vietddude/roundkeeper/internal/metrics"
)

// Mode selects which side-predicate the locator satisfies.
type Mode int

const (
	// FirstGE finds the smallest h with header(h).ts >= T.
	FirstGE Mode = iota
	// LastLT finds the largest h with header(h).ts < T.
	LastLT
)

// blockRange is the cached (start, end) pair for one epoch; both are
// inclusive heights, end being the last block before the next epoch.
type blockRange struct {
	Start uint64
	End   uint64
}

// Anchor is the most recently resolved (timestamp, height) pair, used
// to seed the next search by linear extrapolation.
type Anchor struct {
	Timestamp time.Time
	Height    uint64
}

// Locator finds blocks by timestamp against one chain.Reader.
type Locator struct {
	reader chain.Reader
	cfg    config.LocatorConfig

	rangeCache Store
	tsCache    Store

	anchor *Anchor
}

// New creates a Locator. rangeCache and tsCache may be the same Store
// implementation (in-memory or Redis-backed); they are namespaced by
// key prefix, not by instance.
func New(reader chain.Reader, cfg config.LocatorConfig, rangeCache, tsCache Store) *Locator {
	return &Locator{reader: reader, cfg: cfg, rangeCache: rangeCache, tsCache: tsCache}
}

// EpochRange resolves the inclusive [start, end] block range for an
// epoch given its start timestamp and the next epoch's start timestamp
// (or "now" if unavailable, per §4.7 LOCATE): start is the first block at
// or after startTS, end the last block before nextStartTS. Results are
// cached per epoch.
func (l *Locator) EpochRange(ctx context.Context, epoch domain.Epoch, startTS, nextStartTS time.Time) (start, end uint64, err error) {
	cacheKey := fmt.Sprintf("range:%d", epoch)
	if v, ok := l.rangeCache.Get(cacheKey); ok {
		metrics.LocatorCacheHits.WithLabelValues("range").Inc()
		r := v.(blockRange)
		return r.Start, r.End, nil
	}
	metrics.LocatorCacheMisses.WithLabelValues("range").Inc()

	start, err = l.Find(ctx, FirstGE, startTS)
	if err != nil {
		return 0, 0, fmt.Errorf("locate range start: %w", err)
	}
	end, err = l.Find(ctx, LastLT, nextStartTS)
	if err != nil {
		return 0, 0, fmt.Errorf("locate range end: %w", err)
	}

	l.rangeCache.Set(cacheKey, blockRange{Start: start, End: end}, l.cfg.BlockRangeCacheTTL)
	return start, end, nil
}

// Find resolves one timestamp to a block height under the given mode,
// running the seeded-stride+binary fast path and falling back to
// multi-sample regression when the fast path's residual is too large
// and no anchor was available to seed it.
func (l *Locator) Find(ctx context.Context, mode Mode, target time.Time) (uint64, error) {
	latest, err := l.reader.LatestBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block height: %w", err)
	}

	hadAnchor := l.anchor != nil
	seed, err := l.seed(ctx, target, latest)
	if err != nil {
		return 0, err
	}

	lo, hi, probes, err := l.strideOutward(ctx, seed, target, latest)
	if err != nil {
		return 0, err
	}

	result, residual, err := l.binarySearch(ctx, lo, hi, target, mode)
	if err != nil {
		return 0, err
	}

	if !hadAnchor && residual > l.cfg.ResidualThreshold {
		metrics.LocatorProbes.WithLabelValues("regression").Observe(float64(probes))
		result, err = l.regressionFallback(ctx, lo, hi, target, mode, latest)
		if err != nil {
			return 0, err
		}
	} else {
		metrics.LocatorProbes.WithLabelValues("fast").Observe(float64(probes))
	}

	result, err = l.linearCorrect(ctx, result, target, mode, latest)
	if err != nil {
		return 0, err
	}

	hdr, err := l.header(ctx, result)
	if err == nil {
		l.anchor = &Anchor{Timestamp: hdr.Timestamp, Height: result}
	}

	return result, nil
}

// seed extrapolates from the cached anchor, or falls back to
// latest - blocks(24h) when no anchor exists yet.
func (l *Locator) seed(ctx context.Context, target time.Time, latest uint64) (uint64, error) {
	if l.anchor != nil {
		deltaSeconds := target.Sub(l.anchor.Timestamp).Seconds()
		deltaBlocks := int64(deltaSeconds * l.cfg.BlocksPerSecond)
		seed := int64(l.anchor.Height) + deltaBlocks
		return clamp(seed, 0, int64(latest)), nil
	}
	blocksIn24h := int64(24 * 3600 * l.cfg.BlocksPerSecond)
	seed := int64(latest) - blocksIn24h
	return clamp(seed, 0, int64(latest)), nil
}

// strideOutward steps in fixed strides of K blocks for at most
// MaxStrideProbes probes, establishing a bracket [lo, hi] around target.
func (l *Locator) strideOutward(ctx context.Context, seed uint64, target time.Time, latest uint64) (lo, hi uint64, probes int, err error) {
	k := l.cfg.StrideBlocks
	hdr, err := l.header(ctx, seed)
	if err != nil {
		return 0, 0, 0, err
	}
	probes++

	if hdr.Timestamp.Before(target) {
		// Seed is before target: step forward until we bracket it.
		cur := seed
		for i := 0; i < l.cfg.MaxStrideProbes; i++ {
			next := clamp(int64(cur)+int64(k), 0, int64(latest))
			if uint64(next) == cur {
				break
			}
			cur = uint64(next)
			h, err := l.header(ctx, cur)
			if err != nil {
				return 0, 0, 0, err
			}
			probes++
			if !h.Timestamp.Before(target) {
				lo = subClamp(cur, k)
				hi = cur
				return lo, hi, probes, nil
			}
		}
		return subClamp(cur, k), cur, probes, nil
	}

	// Seed is at or after target: step backward until we bracket it.
	cur := seed
	for i := 0; i < l.cfg.MaxStrideProbes; i++ {
		prev := subClamp(cur, k)
		if prev == cur {
			break
		}
		cur = prev
		h, err := l.header(ctx, cur)
		if err != nil {
			return 0, 0, 0, err
		}
		probes++
		if h.Timestamp.Before(target) {
			lo = cur
			hi = cur + k
			if hi > latest {
				hi = latest
			}
			return lo, hi, probes, nil
		}
	}
	return cur, cur + k, probes, nil
}

// binarySearch tightens [lo, hi] with at most MaxBinaryIterations
// bisections, returning the best current estimate for mode and the
// residual (|header(result).ts - target|) for the fallback decision.
func (l *Locator) binarySearch(ctx context.Context, lo, hi uint64, target time.Time, mode Mode) (uint64, time.Duration, error) {
	for i := 0; i < l.cfg.MaxBinaryIterations && lo < hi; i++ {
		mid := lo + (hi-lo)/2
		h, err := l.header(ctx, mid)
		if err != nil {
			return 0, 0, err
		}
		if h.Timestamp.Before(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	result := lo
	if mode == LastLT && result > 0 {
		result--
	}
	hdr, err := l.header(ctx, result)
	if err != nil {
		return 0, 0, err
	}
	residual := hdr.Timestamp.Sub(target)
	if residual < 0 {
		residual = -residual
	}
	return result, residual, nil
}

// regressionFallback estimates blocks-per-second from RegressionSamples
// evenly distributed probes in [lo, hi], reseeds, then re-runs a bounded
// binary search. Used only when the fast path's residual is large and
// no anchor existed to have seeded it accurately.
func (l *Locator) regressionFallback(ctx context.Context, lo, hi uint64, target time.Time, mode Mode, latest uint64) (uint64, error) {
	n := l.cfg.RegressionSamples
	if n < 2 {
		n = 2
	}
	if hi <= lo {
		hi = lo + uint64(n)
		if hi > latest {
			hi = latest
		}
	}

	type sample struct {
		height uint64
		ts     time.Time
	}
	samples := make([]sample, 0, n)
	step := (hi - lo) / uint64(n-1)
	if step == 0 {
		step = 1
	}
	for i := 0; i < n; i++ {
		h := lo + uint64(i)*step
		if h > hi {
			h = hi
		}
		hdr, err := l.header(ctx, h)
		if err != nil {
			return 0, err
		}
		samples = append(samples, sample{height: h, ts: hdr.Timestamp})
	}

	// Simple linear regression: blocks per second from first to last sample.
	first, last := samples[0], samples[len(samples)-1]
	elapsed := last.ts.Sub(first.ts).Seconds()
	var bps float64 = l.cfg.BlocksPerSecond
	if elapsed > 0 {
		bps = float64(last.height-first.height) / elapsed
	}

	deltaSeconds := target.Sub(first.ts).Seconds()
	estimate := int64(first.height) + int64(deltaSeconds*bps)
	estimate = int64(clamp(estimate, 0, int64(latest)))

	newLo := subClamp(uint64(estimate), l.cfg.StrideBlocks)
	newHi := uint64(estimate) + l.cfg.StrideBlocks
	if newHi > latest {
		newHi = latest
	}

	result, _, err := l.binarySearch(ctx, newLo, newHi, target, mode)
	return result, err
}

// linearCorrect walks one block at a time from result until the
// side-predicate holds, bounded by MaxLinearSteps to prevent a
// pathological scan.
func (l *Locator) linearCorrect(ctx context.Context, result uint64, target time.Time, mode Mode, latest uint64) (uint64, error) {
	for i := uint64(0); i < l.cfg.MaxLinearSteps; i++ {
		hdr, err := l.header(ctx, result)
		if err != nil {
			return 0, err
		}

		switch mode {
		case FirstGE:
			if hdr.Timestamp.Before(target) {
				if result >= latest {
					return result, nil
				}
				result++
				continue
			}
			if result > 0 {
				prevHdr, err := l.header(ctx, result-1)
				if err != nil {
					return 0, err
				}
				if !prevHdr.Timestamp.Before(target) {
					result--
					continue
				}
			}
			return result, nil
		case LastLT:
			if !hdr.Timestamp.Before(target) {
				if result == 0 {
					return result, nil
				}
				result--
				continue
			}
			if result < latest {
				nextHdr, err := l.header(ctx, result+1)
				if err != nil {
					return 0, err
				}
				if nextHdr.Timestamp.Before(target) {
					result++
					continue
				}
			}
			return result, nil
		}
	}
	return result, nil
}

// header fetches a block header through the timestamp cache.
func (l *Locator) header(ctx context.Context, height uint64) (chain.Header, error) {
	cacheKey := fmt.Sprintf("ts:%d", height)
	if v, ok := l.tsCache.Get(cacheKey); ok {
		metrics.LocatorCacheHits.WithLabelValues("timestamp").Inc()
		ts := v.(uint64)
		return chain.Header{Height: height, Timestamp: time.Unix(int64(ts), 0).UTC()}, nil
	}
	metrics.LocatorCacheMisses.WithLabelValues("timestamp").Inc()

	hdr, err := l.reader.BlockHeader(ctx, height)
	if err != nil {
		return chain.Header{}, err
	}
	l.tsCache.Set(cacheKey, uint64(hdr.Timestamp.Unix()), l.cfg.BlockTSCacheTTL)
	return hdr, nil
}

func clamp(v, min, max int64) uint64 {
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return uint64(v)
}

func subClamp(v, delta uint64) uint64 {
	if delta > v {
		return 0
	}
	return v - delta
}
