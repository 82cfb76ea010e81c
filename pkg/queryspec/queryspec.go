// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queryspec implements the immutable RequestSpec (spec.md §3) and
// the RequestDecomposer's horizontal/vertical/grid/preferred splitting
// strategies (§4.3). Grounded on
// internal/metricstoreclient/cc-metric-store-queries.go's buildQueries,
// which performs the same kind of "split one request into many scoped
// sub-requests" work, and internal/metricDataDispatcher/dataLoader.go's
// cache-key construction style.
package queryspec

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
)

// Transport is the advisory stream-direction preference from spec.md §3.
type Transport int

const (
	Forward Transport = iota
	Backward
	Bidirectional
)

// RequestSpec is the immutable request described by spec.md §3. It is
// built once by the caller and never mutated afterwards; Decompose*
// produces further immutable RequestSpecs.
type RequestSpec struct {
	id                 string
	Sources            []string
	Begin, End         timestamp.Timestamp
	PreferredTransport Transport
}

// New builds a RequestSpec with a fresh correlation id. sources is copied
// defensively so the caller's slice may be reused or mutated afterwards.
func New(sources []string, begin, end timestamp.Timestamp, preferred Transport) RequestSpec {
	cp := append([]string(nil), sources...)
	sort.Strings(cp)
	return RequestSpec{
		id:                 uuid.NewString(),
		Sources:            cp,
		Begin:              begin,
		End:                end,
		PreferredTransport: preferred,
	}
}

// ID is the sub-request correlation id, used for log/error attribution
// across the stream pool (SPEC_FULL.md §3).
func (r RequestSpec) ID() string { return r.id }

// withID returns a copy of r carrying a fresh id, used when the decomposer
// produces sub-requests that must be individually traceable.
func (r RequestSpec) withID() RequestSpec {
	r.id = uuid.NewString()
	return r
}

// durationSeconds returns End-Begin in (possibly fractional, rounded up)
// whole seconds, used only for the approxDomainSize heuristic.
func (r RequestSpec) durationSeconds() int64 {
	nanos := r.End.ToNanos() - r.Begin.ToNanos()
	if nanos <= 0 {
		return 0
	}
	secs := nanos / 1_000_000_000
	if nanos%1_000_000_000 != 0 {
		secs++
	}
	return secs
}

// ApproxDomainSize is sources.len * seconds(interval), per spec.md §3.
func (r RequestSpec) ApproxDomainSize() int64 {
	return int64(len(r.Sources)) * r.durationSeconds()
}

// Valid checks RequestSpec's invariants: Begin < End, at least one source.
func (r RequestSpec) Valid() bool {
	return r.Begin.Before(r.End) && len(r.Sources) >= 1
}

// Config holds the decomposer's tunable selection-heuristic parameters
// (spec.md §4.3, §4.9).
type Config struct {
	StreamCount        int
	MinDomainThreshold int64
}

// splitSources partitions sources into n roughly-equal, non-overlapping
// subsets preserving order, used by DecomposeHorizontal and DecomposeGrid.
func splitSources(sources []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	if n > len(sources) {
		n = len(sources)
	}
	out := make([][]string, n)
	base := len(sources) / n
	rem := len(sources) % n
	idx := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		out[i] = append([]string(nil), sources[idx:idx+size]...)
		idx += size
	}
	return out
}

// splitInterval partitions [begin, end) into n contiguous sub-intervals of
// equal duration; the last absorbs any rounding remainder, keeping the
// union bit-exact on the half-open boundary (spec.md §4.3, §8 invariant 3).
func splitInterval(begin, end timestamp.Timestamp, n int) []struct{ begin, end timestamp.Timestamp } {
	if n <= 0 {
		n = 1
	}
	total := end.ToNanos() - begin.ToNanos()
	step := total / int64(n)
	out := make([]struct{ begin, end timestamp.Timestamp }, n)
	cursor := begin.ToNanos()
	for i := 0; i < n; i++ {
		next := cursor + step
		if i == n-1 {
			next = end.ToNanos()
		}
		out[i] = struct{ begin, end timestamp.Timestamp }{
			begin: timestamp.FromNanos(cursor),
			end:   timestamp.FromNanos(next),
		}
		cursor = next
	}
	return out
}

// DecomposeHorizontal partitions Sources into n roughly-equal subsets; the
// time interval is unchanged across all resulting sub-requests.
func DecomposeHorizontal(r RequestSpec, n int) []RequestSpec {
	parts := splitSources(r.Sources, n)
	out := make([]RequestSpec, len(parts))
	for i, sources := range parts {
		out[i] = RequestSpec{
			Sources:            sources,
			Begin:              r.Begin,
			End:                r.End,
			PreferredTransport: r.PreferredTransport,
		}.withID()
	}
	return out
}

// DecomposeVertical splits Interval into n contiguous sub-intervals of
// equal duration (the last absorbs the rounding remainder); Sources are
// unchanged across all resulting sub-requests.
func DecomposeVertical(r RequestSpec, n int) []RequestSpec {
	intervals := splitInterval(r.Begin, r.End, n)
	out := make([]RequestSpec, len(intervals))
	for i, iv := range intervals {
		out[i] = RequestSpec{
			Sources:            append([]string(nil), r.Sources...),
			Begin:              iv.begin,
			End:                iv.end,
			PreferredTransport: r.PreferredTransport,
		}.withID()
	}
	return out
}

// divisorsClosestToSqrt returns the two factors of n whose product is n and
// which are closest to sqrt(n), smaller factor first.
func divisorsClosestToSqrt(n int) (a, b int) {
	if n <= 1 {
		return 1, 1
	}
	best := 1
	for d := 1; d*d <= n; d++ {
		if n%d == 0 {
			best = d
		}
	}
	return best, n / best
}

// DecomposeGrid partitions r into a 2-D grid: horizontalFactor source
// partitions crossed with verticalFactor time partitions, where the two
// factors are the divisors of n closest to sqrt(n) (spec.md §4.3).
func DecomposeGrid(r RequestSpec, n int) []RequestSpec {
	hFactor, vFactor := divisorsClosestToSqrt(n)
	sourceParts := splitSources(r.Sources, hFactor)
	intervalParts := splitInterval(r.Begin, r.End, vFactor)

	out := make([]RequestSpec, 0, len(sourceParts)*len(intervalParts))
	for _, sources := range sourceParts {
		for _, iv := range intervalParts {
			out = append(out, RequestSpec{
				Sources:            sources,
				Begin:              iv.begin,
				End:                iv.end,
				PreferredTransport: r.PreferredTransport,
			}.withID())
		}
	}
	return out
}

// DecomposePreferred chooses among the strategies above using the
// selection heuristic from spec.md §4.3, ordered:
//  1. approxDomainSize < MinDomainThreshold -> [r]
//  2. sources.len >= StreamCount -> horizontal
//  3. approxDomainSize / MinDomainThreshold >= StreamCount -> vertical
//  4. sources.len >= StreamCount/2 -> grid
//  5. otherwise -> [r]
//
// A MinDomainThreshold <= 0 also returns [r], before any of the rules.
// The result always has length <= cfg.StreamCount.
func DecomposePreferred(r RequestSpec, cfg Config) []RequestSpec {
	if cfg.MinDomainThreshold <= 0 || r.ApproxDomainSize() < cfg.MinDomainThreshold {
		return []RequestSpec{r}
	}

	n := cfg.StreamCount
	if n <= 0 {
		n = 1
	}

	if len(r.Sources) >= n {
		return DecomposeHorizontal(r, n)
	}
	if r.ApproxDomainSize()/cfg.MinDomainThreshold >= int64(n) {
		return DecomposeVertical(r, n)
	}
	if len(r.Sources) >= n/2 {
		return DecomposeGrid(r, n)
	}
	return []RequestSpec{r}
}
