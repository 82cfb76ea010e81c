// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package streampipe

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-query-engine/pkg/correlator"
	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
	"github.com/ClusterCockpit/cc-query-engine/pkg/value"
)

func testBucket() rawblock.DataBucket {
	k := timestamp.NewClockKey(timestamp.UniformClock{Start: timestamp.Timestamp{Seconds: 1}, PeriodNanos: 1e9, Count: 1})
	return rawblock.DataBucket{Key: k, Column: rawblock.DataColumn{SourceName: "A", Values: []value.Value{{Tag: value.TypeFloat64}}}}
}

type fakeStream struct {
	messages []correlator.Message
	idx      int
	openErr  error
	recvErr  error
}

func (s *fakeStream) Recv(ctx context.Context) (any, error) {
	if s.idx >= len(s.messages) {
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, io.EOF
	}
	m := s.messages[s.idx]
	s.idx++
	return m, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeOpener struct {
	stream *fakeStream
	err    error
}

func (o *fakeOpener) Open(ctx context.Context, sub queryspec.RequestSpec) (Stream, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

func TestStreamTaskPushesAllMessagesThenSucceeds(t *testing.T) {
	buf := NewMessageBuffer(8)
	stream := &fakeStream{messages: []correlator.Message{
		{Buckets: []rawblock.DataBucket{testBucket()}},
		{Buckets: []rawblock.DataBucket{testBucket()}},
	}}
	task := NewStreamTask(queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 1}, queryspec.Forward), &fakeOpener{stream: stream}, buf)

	task.Run(context.Background())

	res := task.Result()
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if task.MessagesPushed() != 2 {
		t.Fatalf("got %d messages pushed, want 2", task.MessagesPushed())
	}
}

func TestStreamTaskFailsOnOpenError(t *testing.T) {
	buf := NewMessageBuffer(8)
	task := NewStreamTask(queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 1}, queryspec.Forward), &fakeOpener{err: qerrors.New(qerrors.Transport, "boom")}, buf)
	task.Run(context.Background())
	if res := task.Result(); res.Success {
		t.Fatal("expected failure on open error")
	}
}

func TestStreamTaskFailsOnRecvError(t *testing.T) {
	buf := NewMessageBuffer(8)
	stream := &fakeStream{recvErr: qerrors.New(qerrors.Transport, "recv boom")}
	task := NewStreamTask(queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 1}, queryspec.Forward), &fakeOpener{stream: stream}, buf)
	task.Run(context.Background())
	if res := task.Result(); res.Success {
		t.Fatal("expected failure on recv error")
	}
}

func TestStreamTaskObservesCancellation(t *testing.T) {
	buf := NewMessageBuffer(8)
	stream := &fakeStream{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task := NewStreamTask(queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 1}, queryspec.Forward), &fakeOpener{stream: stream}, buf)
	task.Run(ctx)
	res := task.Result()
	if res.Success || qerrors.KindOf(res.Cause) != qerrors.Cancelled {
		t.Fatalf("expected Cancelled failure, got %+v", res)
	}
}

func TestTransferTaskDrainsUntilBufferStopsSupplying(t *testing.T) {
	buf := NewMessageBuffer(8)
	corr := correlator.New(correlator.Config{PivotSize: 1000})
	task := NewTransferTask(buf, corr, 20*time.Millisecond)

	buf.Push(correlator.Message{Buckets: []rawblock.DataBucket{testBucket()}})
	buf.Push(correlator.Message{Buckets: []rawblock.DataBucket{testBucket()}})
	buf.CloseSupply()

	task.Run(context.Background())

	res := task.Result()
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if task.MessagesTransferred() != 2 {
		t.Fatalf("got %d messages transferred, want 2", task.MessagesTransferred())
	}
}

func TestTransferTaskTerminateCausesFailure(t *testing.T) {
	buf := NewMessageBuffer(8)
	corr := correlator.New(correlator.Config{PivotSize: 1000})
	task := NewTransferTask(buf, corr, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		task.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	task.Terminate()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TransferTask.Run did not exit after Terminate")
	}

	if res := task.Result(); res.Success {
		t.Fatal("expected failure after Terminate")
	}
}
