// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package correlator

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
)

// hotBlockCacheSize bounds the recently-touched-key shortcut. Real streams
// tend to deliver every source's column for one sampling key in close
// succession, so a small cache of the last blocks touched avoids the
// linear CorrelatedSet scan for the common case.
const hotBlockCacheSize = 256

// hotBlockCache maps a sampling key's hash to the block that last claimed
// it, letting the insertion paths skip straight to the right block instead
// of walking the whole sorted set for back-to-back buckets of the same key.
// A miss or a hash collision just falls through to the normal scan; the
// cache is purely an accelerator and never a source of truth.
type hotBlockCache struct {
	cache *lru.Cache[uint64, *rawblock.RawBlock]
}

func newHotBlockCache() *hotBlockCache {
	c, _ := lru.New[uint64, *rawblock.RawBlock](hotBlockCacheSize)
	return &hotBlockCache{cache: c}
}

// tryInsert attempts bucket against the cached block for its key hash, if
// any. Returns (accepted, keyMatched) with the same meaning as
// rawblock.RawBlock.TryInsert: a cache miss, or a hash that turns out not
// to be truly equivalent, reports keyMatched false so the caller falls
// through to the full scan instead of wrongly creating a new block.
func (h *hotBlockCache) tryInsert(bucket rawblock.DataBucket) (accepted, keyMatched bool) {
	key := rawblock.KeyHash(bucket.Key)
	block, ok := h.cache.Get(key)
	if !ok {
		return false, false
	}
	return block.TryInsert(bucket)
}

// remember records b as the most recent block to claim a bucket with this
// key hash, so subsequent buckets for the same key hit the cache.
func (h *hotBlockCache) remember(bucket rawblock.DataBucket, b *rawblock.RawBlock) {
	h.cache.Add(rawblock.KeyHash(bucket.Key), b)
}

func (h *hotBlockCache) reset() {
	h.cache.Purge()
}
