// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package correlator implements the Raw Data Correlator (spec.md §4.5): it
// ingests response messages bucket by bucket and groups them into the
// sorted, disjoint CorrelatedSet. Below the concurrency pivot it inserts
// serially; above it, insertion attempts fan out over a bounded worker
// pool, with golang.org/x/sync/semaphore standing in for the fixed worker
// count. An LRU hot-block cache shortcuts the common case where a
// sampling key's columns arrive in quick succession.
package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
)

// Message is the decoded unit Process consumes: a flat list of buckets
// plus the raw wire bytes they were decoded from, for byte accounting.
type Message struct {
	Buckets   []rawblock.DataBucket
	WireBytes int
}

// Correlator is the state machine from spec.md §4.5: Idle -> Processing ->
// Idle, re-entrant by lock. The zero value is not usable; use New.
type Correlator struct {
	mu sync.Mutex // the "exclusion lock": held for the whole of Process

	set *rawblock.CorrelatedSet
	hot *hotBlockCache

	concurrencyEnabled bool
	concurrencyWorkers int
	pivotSize          int
	workerTimeout      time.Duration

	bytesProcessed int64
}

// Config are the tunables named in spec.md §4.5/§4.9.
type Config struct {
	ConcurrencyEnabled bool
	ConcurrencyWorkers int
	PivotSize          int
	WorkerTimeout      time.Duration
}

// DefaultWorkerTimeout bounds the concurrent insertion pool when the caller
// supplies no explicit workerTimeout.
const DefaultWorkerTimeout = 30 * time.Second

// New builds a Correlator in the Idle state with an empty CorrelatedSet.
func New(cfg Config) *Correlator {
	timeout := cfg.WorkerTimeout
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}
	workers := cfg.ConcurrencyWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Correlator{
		set:                rawblock.NewCorrelatedSet(),
		hot:                newHotBlockCache(),
		concurrencyEnabled: cfg.ConcurrencyEnabled,
		concurrencyWorkers: workers,
		pivotSize:          cfg.PivotSize,
		workerTimeout:      timeout,
	}
}

// EnableConcurrency turns on the concurrent insertion path with n workers.
// Safe to call between messages; takes the exclusion lock.
func (c *Correlator) EnableConcurrency(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		n = 1
	}
	c.concurrencyEnabled = true
	c.concurrencyWorkers = n
}

// DisableConcurrency reverts to the serial insertion path.
func (c *Correlator) DisableConcurrency() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.concurrencyEnabled = false
}

// SetPivotSize changes the block-set size threshold that triggers the
// concurrent insertion path.
func (c *Correlator) SetPivotSize(k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pivotSize = k
}

// BytesProcessed returns the accumulated wire-encoded byte length of every
// message processed since construction or the last Reset.
func (c *Correlator) BytesProcessed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesProcessed
}

// CorrelatedSet returns the sorted block set built so far. The set remains
// live and is further mutated by subsequent Process calls; callers that
// need a stable view should Snapshot it themselves.
func (c *Correlator) CorrelatedSet() *rawblock.CorrelatedSet {
	return c.set
}

// Reset returns the correlator to Idle, clearing the block set and the
// byte counter (spec.md §4.5, invariant 9).
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set.Reset()
	c.hot.reset()
	c.bytesProcessed = 0
}

// Process ingests one message's buckets, holding the exclusion lock for
// the whole call so that no two messages are processed concurrently
// (spec.md §4.5 "Concurrency safety"). A bucket that fails Validate aborts
// the remainder of the message with InvalidBucket.
func (c *Correlator) Process(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wireLen := msg.WireBytes
	if wireLen == 0 {
		wireLen = estimateWireLen(msg.Buckets)
	}
	c.bytesProcessed += int64(wireLen)

	for _, b := range msg.Buckets {
		if err := b.Validate(); err != nil {
			cclog.Warnf("[CORRELATOR]> rejecting message: %s", err.Error())
			return err
		}
	}

	if c.set.Len() < c.pivotSize || !c.concurrencyEnabled {
		c.insertSerial(msg.Buckets)
		return nil
	}
	return c.insertConcurrent(ctx, msg.Buckets)
}

// insertSerial is spec.md §4.5 step 2: walk the sorted set in order, stop
// at the first accepting block; if some block's key matches but the
// bucket's source is already present there, the bucket is a duplicate and
// is dropped (spec.md §8: "identical keys and identical source names ->
// second is silently dropped") rather than given a block of its own. Only
// when no block's key matches at all is a new block created.
func (c *Correlator) insertSerial(buckets []rawblock.DataBucket) {
	for _, b := range buckets {
		if _, keyMatched := c.hot.tryInsert(b); keyMatched {
			continue
		}
		if _, keyMatched := c.set.TryInsertExisting(b); keyMatched {
			continue
		}
		block := rawblock.NewRawBlock(b)
		c.set.InsertNew(block)
		c.hot.remember(b, block)
	}
}

// insertConcurrent is spec.md §4.5 step 3: fan the message's buckets out
// to a bounded worker pool, each walking the stable snapshot of the
// current set; buckets no worker could place ("free buckets") are
// correlated serially into an auxiliary set and merged in.
func (c *Correlator) insertConcurrent(ctx context.Context, buckets []rawblock.DataBucket) error {
	deadline, cancel := context.WithTimeout(ctx, c.workerTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(c.concurrencyWorkers))

	var mu sync.Mutex
	free := make([]rawblock.DataBucket, 0)

	var wg sync.WaitGroup
	for _, b := range buckets {
		if err := sem.Acquire(deadline, 1); err != nil {
			wg.Wait()
			return qerrors.Wrap(qerrors.Timeout, "concurrent insertion pool timed out", err)
		}
		wg.Add(1)
		go func(bucket rawblock.DataBucket) {
			defer wg.Done()
			defer sem.Release(1)
			if _, keyMatched := c.hot.tryInsert(bucket); keyMatched {
				return
			}
			if _, keyMatched := c.set.TryInsertExisting(bucket); !keyMatched {
				mu.Lock()
				free = append(free, bucket)
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	if len(free) == 0 {
		return nil
	}

	aux := rawblock.NewCorrelatedSet()
	for _, b := range free {
		if _, keyMatched := aux.TryInsertExisting(b); !keyMatched {
			block := rawblock.NewRawBlock(b)
			aux.InsertNew(block)
			c.hot.remember(b, block)
		}
	}
	c.set.Merge(aux)
	return nil
}

// estimateWireLen is the SPEC_FULL.md §4 fallback byte-accounting method
// for callers that construct a Message directly instead of routing through
// pkg/wire's decoder (which stamps WireBytes from the actual payload size).
func estimateWireLen(buckets []rawblock.DataBucket) int {
	b, err := json.Marshal(buckets)
	if err != nil {
		return 0
	}
	return len(b)
}
