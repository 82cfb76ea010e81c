// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-query-engine/pkg/correlator"
	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
	"github.com/ClusterCockpit/cc-query-engine/pkg/streampipe"
	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
	"github.com/ClusterCockpit/cc-query-engine/pkg/value"
)

func testBucket(startSec int64, source string) rawblock.DataBucket {
	k := timestamp.NewClockKey(timestamp.UniformClock{Start: timestamp.Timestamp{Seconds: startSec}, PeriodNanos: 1e9, Count: 1})
	return rawblock.DataBucket{Key: k, Column: rawblock.DataColumn{SourceName: source, Values: []value.Value{{Tag: value.TypeFloat64}}}}
}

type fakeStream struct {
	messages []correlator.Message
	idx      int
	failErr  error
}

func (s *fakeStream) Recv(ctx context.Context) (any, error) {
	if s.idx < len(s.messages) {
		m := s.messages[s.idx]
		s.idx++
		return m, nil
	}
	if s.failErr != nil {
		return nil, s.failErr
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeOpener struct {
	streams map[string]*fakeStream
}

func (o *fakeOpener) Open(ctx context.Context, sub queryspec.RequestSpec) (streampipe.Stream, error) {
	if s, ok := o.streams[sub.Sources[0]]; ok {
		return s, nil
	}
	return &fakeStream{}, nil
}

func TestQueryCorrelatedSingleSource(t *testing.T) {
	opener := &fakeOpener{streams: map[string]*fakeStream{
		"A": {messages: []correlator.Message{
			{Buckets: []rawblock.DataBucket{testBucket(1000, "A")}},
			{Buckets: []rawblock.DataBucket{testBucket(2000, "A")}},
		}},
	}}
	e := New(Config{MaxStreams: 2, PivotSize: 1000, OverallDeadline: 5 * time.Second}, opener)

	spec := queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 10}, queryspec.Forward)
	set, err := e.QueryCorrelated(context.Background(), spec)
	if err != nil {
		t.Fatalf("QueryCorrelated: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("got %d blocks, want 2", set.Len())
	}
}

func TestQueryCorrelatedWithCorrelateWhileStreaming(t *testing.T) {
	opener := &fakeOpener{streams: map[string]*fakeStream{
		"A": {messages: []correlator.Message{
			{Buckets: []rawblock.DataBucket{testBucket(1000, "A")}},
		}},
	}}
	e := New(Config{MaxStreams: 1, PivotSize: 1000, OverallDeadline: 5 * time.Second, CorrelateWhileStreaming: true}, opener)

	spec := queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 10}, queryspec.Forward)
	set, err := e.QueryCorrelated(context.Background(), spec)
	if err != nil {
		t.Fatalf("QueryCorrelated: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("got %d blocks, want 1", set.Len())
	}
}

func TestQueryCorrelatedStreamFailurePropagates(t *testing.T) {
	opener := &fakeOpener{streams: map[string]*fakeStream{
		"A": {failErr: qerrors.New(qerrors.Rejected, "remote refused")},
		"B": {messages: []correlator.Message{
			{Buckets: []rawblock.DataBucket{testBucket(1000, "B")}},
		}},
	}}
	e := New(Config{MaxStreams: 2, PivotSize: 1000, OverallDeadline: 5 * time.Second}, opener)

	subs := []queryspec.RequestSpec{
		queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 10}, queryspec.Forward),
		queryspec.New([]string{"B"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 10}, queryspec.Forward),
	}
	_, err := e.QueryCorrelatedStreaming(context.Background(), subs)
	if err == nil {
		t.Fatal("expected an error when one stream task fails")
	}
	if kind := qerrors.KindOf(err); kind != qerrors.Rejected {
		t.Fatalf("got kind %q, want %q (the first cause's kind must surface unwrapped)", kind, qerrors.Rejected)
	}
}

func TestShutdownOnIdleEngineIsNoOp(t *testing.T) {
	emptyStream := &fakeStream{} // Recv returns io.EOF immediately, so the query completes before Shutdown
	opener := &fakeOpener{streams: map[string]*fakeStream{"A": emptyStream}}
	e := New(Config{MaxStreams: 1, PivotSize: 1000, OverallDeadline: 10 * time.Second}, opener)

	spec := queryspec.New([]string{"A"}, timestamp.Timestamp{}, timestamp.Timestamp{Seconds: 10}, queryspec.Forward)
	_, err := e.QueryCorrelated(context.Background(), spec)
	if err != nil {
		t.Fatalf("QueryCorrelated: %v", err)
	}
	// Shutdown after completion is a no-op; verifies no panic on an idle engine.
	e.Shutdown(Hard)
	if err := e.AwaitTermination(10 * time.Millisecond); err != nil {
		t.Fatalf("AwaitTermination on idle engine should return nil, got %v", err)
	}
}
