// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package streampipe implements the bounded handoff between stream tasks
// and the transfer task (spec.md §4.6-4.8): MessageBuffer, StreamTask and
// TransferTask. Grounded on internal/memorystore/lineprotocol.go's
// channel-based fan-in and internal/metricstoreclient/cc-metric-store.go's
// "never throws, capture the result" contract style.
package streampipe

import (
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
)

// BufferState is one of MessageBuffer's three externally observable states
// (spec.md §4.6).
type BufferState int

const (
	Supplying BufferState = iota
	Draining
	Closed
)

func (s BufferState) String() string {
	switch s {
	case Supplying:
		return "Supplying"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// MessageBuffer is a bounded, multi-producer single-consumer queue. Push
// blocks while full; Poll never blocks past its timeout (spec.md §4.6).
// Per-producer ordering is FIFO; ordering across producers is not
// guaranteed, matching a single shared slot rather than per-producer
// lanes.
type MessageBuffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items    []any
	capacity int
	state    BufferState
}

// NewMessageBuffer creates a buffer in the Supplying state with the given
// capacity (must be >= 1).
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &MessageBuffer{capacity: capacity, state: Supplying}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Push blocks while the buffer is full. Fails with Rejected if the
// buffer's state is not Supplying, either at the time of the call or
// while the caller was blocked waiting for room. spec.md §4.6 calls this
// condition NotSupplying; qerrors.Rejected is reused for it rather than
// adding a dedicated kind since §7's stable kind set has none and the
// caller-facing distinction that matters is "this push was refused", not
// why.
func (b *MessageBuffer) Push(msg any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Supplying {
		return qerrors.New(qerrors.Rejected, "buffer is not accepting pushes")
	}
	for len(b.items) >= b.capacity && b.state == Supplying {
		b.notFull.Wait()
	}
	if b.state != Supplying {
		return qerrors.New(qerrors.Rejected, "buffer is not accepting pushes")
	}

	b.items = append(b.items, msg)
	b.notEmpty.Signal()
	return nil
}

// Poll returns the next item, or (nil, false) if timeout elapses first or
// the buffer reaches Closed with nothing left to drain.
func (b *MessageBuffer) Poll(timeout time.Duration) (any, bool) {
	deadline := time.Now().Add(timeout)

	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) == 0 && b.state != Closed {
		if !time.Now().Before(deadline) {
			return nil, false
		}
		b.notEmpty.Wait()
	}
	if len(b.items) == 0 {
		return nil, false
	}

	msg := b.items[0]
	b.items = b.items[1:]
	if len(b.items) < b.capacity {
		b.notFull.Signal()
	}
	if len(b.items) == 0 && b.state == Draining {
		b.state = Closed
		b.notEmpty.Broadcast()
	}
	return msg, true
}

// CloseSupply transitions Supplying -> Draining; once the buffer empties
// it becomes Closed. Safe to call more than once.
func (b *MessageBuffer) CloseSupply() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Supplying {
		return
	}
	if len(b.items) == 0 {
		b.state = Closed
	} else {
		b.state = Draining
	}
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
}

// Supplying reports whether producers may still push.
func (b *MessageBuffer) Supplying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Supplying
}

// State returns the buffer's current externally observable state.
func (b *MessageBuffer) State() BufferState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
