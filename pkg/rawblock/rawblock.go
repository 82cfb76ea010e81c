// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rawblock implements the time-correlated RawBlock (spec.md §4.4)
// and the sorted CorrelatedSet container the Correlator builds (§3, §4.5).
//
// A RawBlock groups all DataColumns the correlator has matched to one
// sampling key. Insertion is lock-free to its own callers via TryInsert's
// internal per-block mutex, which is what lets §4.5's concurrent insertion
// path attempt many blocks at once without a coarser lock: adapted from the
// per-metric buffer locking in internal/memorystore/buffer.go.
package rawblock

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
	"github.com/ClusterCockpit/cc-query-engine/pkg/value"
)

// DataColumn is one source's values for a shared sampling key.
type DataColumn struct {
	SourceName string
	Values     []value.Value
}

// DataBucket is the smallest wire-ingest unit: one sampling key plus one
// source's column of values for it.
type DataBucket struct {
	Key    timestamp.SamplingKey
	Column DataColumn
}

// Validate checks the InvalidBucket condition from spec.md §7: a bucket
// must carry a valid key and a non-empty column name.
func (b DataBucket) Validate() error {
	if !b.Key.Valid() {
		return qerrors.New(qerrors.InvalidBucket, "bucket has neither a valid clock nor a valid timestamp list")
	}
	if b.Column.SourceName == "" {
		return qerrors.New(qerrors.InvalidBucket, "bucket column has no source name")
	}
	return nil
}

// RawBlock is all columns correlated to one equivalent sampling key.
type RawBlock struct {
	mu          sync.Mutex
	key         timestamp.SamplingKey
	columns     []DataColumn
	sourceNames map[string]struct{}
}

// NewRawBlock creates a RawBlock seeded with bucket's column.
func NewRawBlock(bucket DataBucket) *RawBlock {
	return &RawBlock{
		key:         bucket.Key,
		columns:     []DataColumn{bucket.Column},
		sourceNames: map[string]struct{}{bucket.Column.SourceName: {}},
	}
}

// Key returns the block's sampling key.
func (b *RawBlock) Key() timestamp.SamplingKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

// StartTime is the CorrelatedSet ordering key.
func (b *RawBlock) StartTime() timestamp.Timestamp {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key.StartTime()
}

// SampleCount returns the block's declared sample count, from the key.
func (b *RawBlock) SampleCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key.SampleCount()
}

// Columns returns a snapshot copy of the block's columns.
func (b *RawBlock) Columns() []DataColumn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DataColumn, len(b.columns))
	copy(out, b.columns)
	return out
}

// SourceNames returns the set of source names currently in this block.
func (b *RawBlock) SourceNames() map[string]struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct{}, len(b.sourceNames))
	for k := range b.sourceNames {
		out[k] = struct{}{}
	}
	return out
}

// TryInsert is atomic on this block. Returns (accepted, keyMatched).
// keyMatched is true whenever bucket.Key is equivalent to the block's key,
// regardless of whether the column was actually appended — callers need
// this to tell "no block has an equivalent key yet" (keyMatched false, a
// new block should be created) apart from "a block claimed this key but
// already has this source" (keyMatched true, accepted false: the bucket
// is a duplicate and must be dropped, not given a block of its own, per
// spec.md §8's "identical keys and identical source names" boundary case).
// accepted is true iff keyMatched and the column was appended.
func (b *RawBlock) TryInsert(bucket DataBucket) (accepted, keyMatched bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !timestamp.KeysEquivalent(b.key, bucket.Key) {
		return false, false
	}
	if _, dup := b.sourceNames[bucket.Column.SourceName]; dup {
		return false, true
	}

	b.columns = append(b.columns, bucket.Column)
	b.sourceNames[bucket.Column.SourceName] = struct{}{}
	return true, true
}

// VerifySources checks that SourceNames size equals the column count and
// that no source appears twice (spec.md §4.4/§7 DuplicateSource).
func (b *RawBlock) VerifySources() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.columns))
	for _, col := range b.columns {
		if _, dup := seen[col.SourceName]; dup {
			return qerrors.Newf(qerrors.DuplicateSource, "source %q appears in multiple columns of the same block", col.SourceName)
		}
		seen[col.SourceName] = struct{}{}
	}
	if len(seen) != len(b.sourceNames) {
		return qerrors.New(qerrors.Internal, "sourceNames set out of sync with columns")
	}
	return nil
}

// VerifyColumnSizes checks that every column's length equals SampleCount().
func (b *RawBlock) VerifyColumnSizes() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	want := b.key.SampleCount()
	for _, col := range b.columns {
		if len(col.Values) != want {
			return qerrors.Newf(qerrors.SizeMismatch, "column %q has %d values, want %d", col.SourceName, len(col.Values), want)
		}
	}
	return nil
}

// keyHash is the deterministic secondary ordering key used by CorrelatedSet
// to break ties between blocks with identical start times (spec.md §9 open
// question: "implementations must choose a total secondary order").
func keyHash(k timestamp.SamplingKey) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	putInt64 := func(v int64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	if k.Tag == timestamp.TagClock {
		h.Write([]byte{byte(timestamp.TagClock)})
		putInt64(k.Clock.Start.Seconds)
		putInt64(k.Clock.Start.Nanos)
		putInt64(k.Clock.PeriodNanos)
		putInt64(int64(k.Clock.Count))
	} else {
		h.Write([]byte{byte(timestamp.TagList)})
		for _, ts := range k.List.Values {
			putInt64(ts.Seconds)
			putInt64(ts.Nanos)
		}
	}
	return h.Sum64()
}

// KeyHash exposes keyHash for callers that want to index blocks by key
// outside this package, such as a correlator-side hot-block cache.
func KeyHash(k timestamp.SamplingKey) uint64 {
	return keyHash(k)
}

// CorrelatedSet is the sorted set of RawBlocks the Correlator owns and
// publishes (spec.md §3). Ordered by key.StartTime, tie-broken by a
// deterministic hash of the key so coincident-start blocks have a stable
// order across runs.
type CorrelatedSet struct {
	mu     sync.RWMutex
	blocks []*RawBlock
}

// NewCorrelatedSet returns an empty set.
func NewCorrelatedSet() *CorrelatedSet {
	return &CorrelatedSet{}
}

func (s *CorrelatedSet) less(i, j int) bool {
	bi, bj := s.blocks[i], s.blocks[j]
	si := bi.StartTime()
	sj := bj.StartTime()
	if c := si.Compare(sj); c != 0 {
		return c < 0
	}
	return keyHash(bi.Key()) < keyHash(bj.Key())
}

// Len returns the number of blocks currently held.
func (s *CorrelatedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Snapshot returns the blocks in sorted order. The slice is a copy of the
// set's internal slice (pointers are shared, block contents are not), safe
// for the caller to range over while the correlator keeps inserting.
func (s *CorrelatedSet) Snapshot() []*RawBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RawBlock, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// TryInsertExisting attempts bucket against every block currently in the
// set, in sorted order, stopping at the first block whose key matches
// (accepted or not — a key match means some block already owns this
// sampling key, so the caller must never create a second one for it).
// This is the read side of the serial path and of the concurrent path's
// per-worker walk (spec.md §4.5 steps 2 and 3a): callers hold no lock
// across this call beyond a stable snapshot, so concurrent walkers never
// block each other.
func (s *CorrelatedSet) TryInsertExisting(bucket DataBucket) (accepted, keyMatched bool) {
	for _, b := range s.Snapshot() {
		if accepted, keyMatched := b.TryInsert(bucket); keyMatched {
			return accepted, true
		}
	}
	return false, false
}

// InsertNew appends a freshly created block to the set and restores sort
// order. Used by the serial path when no existing block claimed the bucket.
func (s *CorrelatedSet) InsertNew(b *RawBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
	sort.Slice(s.blocks, s.less)
}

// Merge appends all blocks from other into s and restores sort order. Used
// by the concurrent path (spec.md §4.5 step 3e) to fold the auxiliary
// free-bucket set into the stable set once the insertion round completes.
// No key in other collides with a key already in s, by construction of the
// concurrent algorithm.
func (s *CorrelatedSet) Merge(other *CorrelatedSet) {
	added := other.Snapshot()
	if len(added) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, added...)
	sort.Slice(s.blocks, s.less)
}

// Reset clears the set.
func (s *CorrelatedSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = nil
}

// VerifyOrdering checks that the snapshot is sorted by StartTime
// non-decreasing (a SPEC_FULL.md supplement to spec.md §7's named-but-
// unspecified verification method).
func (s *CorrelatedSet) VerifyOrdering() error {
	blocks := s.Snapshot()
	for i := 1; i < len(blocks); i++ {
		if blocks[i-1].StartTime().Compare(blocks[i].StartTime()) > 0 {
			return qerrors.Newf(qerrors.Internal, "block %d starts before block %d", i, i-1)
		}
	}
	return nil
}

// VerifyDisjointTimeDomains checks that no two blocks' [t_first, t_last]
// ranges overlap — a stronger property than key-inequivalence (spec.md §8
// invariant 2), added per SPEC_FULL.md §4.
func (s *CorrelatedSet) VerifyDisjointTimeDomains() error {
	blocks := s.Snapshot()
	type span struct {
		first, last timestamp.Timestamp
	}
	spans := make([]span, len(blocks))
	for i, b := range blocks {
		first, last := b.Key().Domain()
		spans[i] = span{first, last}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].first.Before(spans[j].first) })
	for i := 1; i < len(spans); i++ {
		if spans[i].first.Compare(spans[i-1].last) <= 0 {
			return qerrors.Newf(qerrors.Internal, "time domains for blocks %d and %d overlap", i-1, i)
		}
	}
	return nil
}

// VerifyNoDuplicateKeys checks that no two blocks in the set share an
// equivalent sampling key (spec.md §8 invariant 2).
func (s *CorrelatedSet) VerifyNoDuplicateKeys() error {
	blocks := s.Snapshot()
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			if timestamp.KeysEquivalent(blocks[i].Key(), blocks[j].Key()) {
				return qerrors.Newf(qerrors.Internal, "blocks %d and %d have equivalent sampling keys", i, j)
			}
		}
	}
	return nil
}
