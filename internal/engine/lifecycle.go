// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"time"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
)

// ShutdownMode selects how an in-flight QueryCorrelated call is stopped
// (spec.md §6's shutdown(soft|hard)).
type ShutdownMode int

const (
	// Soft closes the buffer's supply and lets the transfer task drain
	// whatever stream tasks already pushed before exiting normally.
	Soft ShutdownMode = iota
	// Hard cancels the in-flight call's root context immediately.
	Hard
)

// Shutdown stops the in-flight QueryCorrelated call, if any. A no-op when
// no call is running.
func (e *Engine) Shutdown(mode ShutdownMode) {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active == nil {
		return
	}

	switch mode {
	case Hard:
		active.cancel()
	default:
		active.buffer.CloseSupply()
	}
}

// AwaitTermination blocks until the in-flight call finishes or timeout
// elapses, whichever comes first. Returns nil immediately if no call is
// running.
func (e *Engine) AwaitTermination(timeout time.Duration) error {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active == nil {
		return nil
	}

	select {
	case <-active.done:
		return nil
	case <-time.After(timeout):
		return qerrors.New(qerrors.Timeout, "engine did not terminate within the given timeout")
	}
}
