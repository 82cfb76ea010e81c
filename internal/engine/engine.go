// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine implements the orchestration described in spec.md §4.9:
// decompose a request, run a pool of stream tasks against a shared
// buffer, drain the buffer through the correlator via a transfer task,
// and return the sorted correlated set. Grounded on the teacher's
// signal-driven shutdown pattern (sync.WaitGroup + a cancellable root
// context) adapted from cmd/cc-backend's bootstrap, restated here as
// explicit library methods since the engine is embedded, not a daemon.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-query-engine/pkg/correlator"
	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
	"github.com/ClusterCockpit/cc-query-engine/pkg/streampipe"
)

// Config names every tunable enumerated in spec.md §4.9/§5.
type Config struct {
	MaxStreams              int
	MinDomainThreshold      int64
	CorrelateWhileStreaming bool
	ConcurrencyEnabled      bool
	ConcurrencyWorkers      int
	PivotSize               int
	WorkerTimeout           time.Duration
	PollTimeout             time.Duration
	OverallDeadline         time.Duration
	BufferCapacity          int
}

func (c Config) withDefaults() Config {
	if c.MaxStreams <= 0 {
		c.MaxStreams = 1
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 64
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 500 * time.Millisecond
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = correlator.DefaultWorkerTimeout
	}
	if c.OverallDeadline <= 0 {
		c.OverallDeadline = 5 * time.Minute
	}
	return c
}

// Engine orchestrates one request at a time (spec.md §3 "Ownership"): it
// exclusively owns the correlator, the buffer and all tasks for the
// duration of a QueryCorrelated call.
type Engine struct {
	cfg    Config
	opener streampipe.Opener
	corr   *correlator.Correlator

	mu     sync.Mutex
	active *inFlight
}

// inFlight tracks the handles Shutdown/AwaitTermination act on while a
// QueryCorrelated call is running.
type inFlight struct {
	cancel   context.CancelFunc
	buffer   *streampipe.MessageBuffer
	transfer *streampipe.TransferTask
	done     chan struct{}
}

// New builds an Engine that opens transport streams through opener.
func New(cfg Config, opener streampipe.Opener) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:    cfg,
		opener: opener,
		corr: correlator.New(correlator.Config{
			ConcurrencyEnabled: cfg.ConcurrencyEnabled,
			ConcurrencyWorkers: cfg.ConcurrencyWorkers,
			PivotSize:          cfg.PivotSize,
			WorkerTimeout:      cfg.WorkerTimeout,
		}),
	}
}

// QueryCorrelated runs the full pipeline for spec and blocks until
// completion (spec.md §6 Engine API).
func (e *Engine) QueryCorrelated(ctx context.Context, spec queryspec.RequestSpec) (*rawblock.CorrelatedSet, error) {
	subs := (queryspec.DecomposePreferred)(spec, queryspec.Config{
		StreamCount:        e.cfg.MaxStreams,
		MinDomainThreshold: e.cfg.MinDomainThreshold,
	})
	return e.QueryCorrelatedStreaming(ctx, subs)
}

// QueryCorrelatedStreaming is the explicit fan-out entry point (spec.md
// §6): the caller supplies the sub-request list directly, skipping the
// decomposer.
func (e *Engine) QueryCorrelatedStreaming(ctx context.Context, subs []queryspec.RequestSpec) (*rawblock.CorrelatedSet, error) {
	e.corr.Reset()

	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.OverallDeadline)
	defer cancel()

	buffer := streampipe.NewMessageBuffer(e.cfg.BufferCapacity)
	transfer := streampipe.NewTransferTask(buffer, e.corr, e.cfg.PollTimeout)

	done := make(chan struct{})
	e.mu.Lock()
	e.active = &inFlight{cancel: cancel, buffer: buffer, transfer: transfer, done: done}
	e.mu.Unlock()
	defer func() {
		close(done)
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
	}()

	var transferDone chan struct{}
	if e.cfg.CorrelateWhileStreaming {
		transferDone = make(chan struct{})
		go func() {
			defer close(transferDone)
			transfer.Run(queryCtx)
		}()
	}

	group, groupCtx := errgroup.WithContext(queryCtx)
	limit := e.cfg.MaxStreams
	if limit > len(subs) {
		limit = len(subs)
	}
	if limit < 1 {
		limit = 1
	}
	group.SetLimit(limit)

	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			task := streampipe.NewStreamTask(sub, e.opener, buffer)
			task.Run(groupCtx)
			res := task.Result()
			if !res.Success {
				return res.Cause
			}
			return nil
		})
	}

	streamErr := group.Wait()
	if streamErr != nil {
		cclog.Errorf("[ENGINE]> stream pool failed: %v", streamErr)
		cancel()
		transfer.Terminate()
		if e.cfg.CorrelateWhileStreaming {
			<-transferDone
		}
		// streamErr is already a *qerrors.Error carrying the failing
		// sub-request's own kind (Rejected, Transport, Cancelled, ...);
		// re-wrapping it under a fixed kind here would hide that kind
		// from qerrors.KindOf (spec.md §7: "the caller sees a single
		// top-level error with the first cause").
		return nil, streamErr
	}

	buffer.CloseSupply()

	if e.cfg.CorrelateWhileStreaming {
		<-transferDone
	} else {
		transfer.Run(queryCtx)
	}

	if res := transfer.Result(); !res.Success {
		return nil, qerrors.Wrap(qerrors.Internal, "transfer task failed", res.Cause)
	}

	cclog.Infof("[ENGINE]> query complete: %d blocks, %d bytes processed", e.corr.CorrelatedSet().Len(), e.corr.BytesProcessed())
	return e.corr.CorrelatedSet(), nil
}
