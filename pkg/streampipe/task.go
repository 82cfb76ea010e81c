// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streampipe

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-query-engine/pkg/correlator"
	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
)

// Stream is one opened transport channel, owned by the StreamTask for its
// lifetime (spec.md §5 "Shared-resource policy"). Recv returns io.EOF when
// the remote has no more messages for this sub-request.
type Stream interface {
	Recv(ctx context.Context) (any, error)
	Close() error
}

// Opener opens a Stream for a sub-request in a chosen transport mode. It
// is the StreamTask-facing half of the TransportFactory contract named in
// spec.md §9; the concrete NATS-backed implementation lives in
// internal/transport.
type Opener interface {
	Open(ctx context.Context, sub queryspec.RequestSpec) (Stream, error)
}

// TaskResult is a StreamTask's or TransferTask's outcome. Never surfaced
// via a returned error from Run — "never throws", per spec.md §4.7.
type TaskResult struct {
	Success bool
	Cause   error
}

// StreamTask runs a single transport stream for one sub-request, pushing
// every response message onto a shared MessageBuffer (spec.md §4.7).
type StreamTask struct {
	sub    queryspec.RequestSpec
	opener Opener
	buffer *MessageBuffer

	messagesPushed int64

	mu     sync.Mutex
	result TaskResult
	done   bool
}

// NewStreamTask builds a StreamTask for sub, to be driven by Run.
func NewStreamTask(sub queryspec.RequestSpec, opener Opener, buffer *MessageBuffer) *StreamTask {
	return &StreamTask{sub: sub, opener: opener, buffer: buffer}
}

// Run opens the stream, consumes messages until EOF, cancellation or a
// transport error, and pushes each onto the buffer. Blocks until the
// stream ends; never panics or returns an error — inspect Result after it
// returns.
func (t *StreamTask) Run(ctx context.Context) {
	stream, err := t.opener.Open(ctx, t.sub)
	if err != nil {
		t.finish(false, qerrors.Wrap(qerrors.Transport, "opening stream failed", err).WithSubRequest(t.sub.ID()))
		return
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			t.finish(false, qerrors.New(qerrors.Cancelled, "stream task cancelled").WithSubRequest(t.sub.ID()))
			return
		default:
		}

		msg, err := stream.Recv(ctx)
		if err == io.EOF {
			t.finish(true, nil)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				t.finish(false, qerrors.New(qerrors.Cancelled, "stream task cancelled").WithSubRequest(t.sub.ID()))
				return
			}
			// A Stream implementation (e.g. internal/transport's NATS
			// stream) may already classify its own failure via a
			// *qerrors.Error; preserve that kind instead of flattening
			// everything to Transport, so it survives unwrapped up
			// through the engine (spec.md §7).
			var qe *qerrors.Error
			if errors.As(err, &qe) {
				t.finish(false, qe.WithSubRequest(t.sub.ID()))
				return
			}
			t.finish(false, qerrors.Wrap(qerrors.Transport, "stream recv failed", err).WithSubRequest(t.sub.ID()))
			return
		}

		if err := t.buffer.Push(msg); err != nil {
			t.finish(false, qerrors.Wrap(qerrors.Internal, "push to buffer failed", err).WithSubRequest(t.sub.ID()))
			return
		}
		atomic.AddInt64(&t.messagesPushed, 1)
	}
}

func (t *StreamTask) finish(success bool, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.result = TaskResult{Success: success, Cause: cause}
	if !success {
		cclog.Warnf("[STREAMTASK]> sub-request %s failed: %v", t.sub.ID(), cause)
	}
}

// Result returns the task's outcome; the zero value before Run completes.
func (t *StreamTask) Result() TaskResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// MessagesPushed is the count of messages this task pushed onto the
// buffer so far.
func (t *StreamTask) MessagesPushed() int64 {
	return atomic.LoadInt64(&t.messagesPushed)
}

// TransferTask drains the MessageBuffer into the correlator (spec.md
// §4.8).
type TransferTask struct {
	buffer      *MessageBuffer
	corr        *correlator.Correlator
	pollTimeout time.Duration

	messagesTransferred int64

	mu         sync.Mutex
	result     TaskResult
	done       bool
	terminated bool
}

// NewTransferTask builds a TransferTask draining buffer into corr.
func NewTransferTask(buffer *MessageBuffer, corr *correlator.Correlator, pollTimeout time.Duration) *TransferTask {
	if pollTimeout <= 0 {
		pollTimeout = 500 * time.Millisecond
	}
	return &TransferTask{buffer: buffer, corr: corr, pollTimeout: pollTimeout}
}

// Run loops polling the buffer and forwarding each message into the
// correlator until the buffer stops supplying, Terminate is called, or
// correlator.Process fails.
func (t *TransferTask) Run(ctx context.Context) {
	for {
		if t.isTerminated() {
			t.finish(false, qerrors.New(qerrors.Cancelled, "transfer task terminated"))
			return
		}

		msg, ok := t.buffer.Poll(t.pollTimeout)
		if ok {
			cm, valid := msg.(correlator.Message)
			if !valid {
				t.finish(false, qerrors.New(qerrors.Internal, "buffer yielded a non-correlator message"))
				return
			}
			if err := t.corr.Process(ctx, cm); err != nil {
				t.finish(false, err)
				return
			}
			atomic.AddInt64(&t.messagesTransferred, 1)
			continue
		}

		if !t.buffer.Supplying() {
			t.finish(true, nil)
			return
		}
	}
}

// Terminate transitions the task to Terminated; the next poll boundary
// observes this and Run exits with failure.
func (t *TransferTask) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = true
}

func (t *TransferTask) isTerminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}

func (t *TransferTask) finish(success bool, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.result = TaskResult{Success: success, Cause: cause}
}

// Result returns the task's outcome; the zero value before Run completes.
func (t *TransferTask) Result() TaskResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// MessagesTransferred is monotonically increasing.
func (t *TransferTask) MessagesTransferred() int64 {
	return atomic.LoadInt64(&t.messagesTransferred)
}
