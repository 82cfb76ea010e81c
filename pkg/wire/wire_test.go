// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"testing"

	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
	"github.com/ClusterCockpit/cc-query-engine/pkg/value"
)

func TestValueRoundTripEveryKind(t *testing.T) {
	natives := []value.Value{
		{Tag: value.TypeBool, Bool: true},
		{Tag: value.TypeInt32, Int32: -7},
		{Tag: value.TypeInt64, Int64: -9000},
		{Tag: value.TypeFloat32, Float32: 1.5},
		{Tag: value.TypeFloat64, Float64: 2.25},
		{Tag: value.TypeString, Str: "hello"},
		{Tag: value.TypeBytes, Bytes: []byte{1, 2, 3}},
		{Tag: value.TypeArray, Array: []value.Value{{Tag: value.TypeInt32, Int32: 1}, {Tag: value.TypeString, Str: "x"}}},
		{Tag: value.TypeStruct, Struct: map[string]value.Value{"flag": {Tag: value.TypeBool, Bool: true}}},
		{Tag: value.TypeImage, Image: value.Image{Format: "png", Bytes: []byte{9, 9}}},
	}
	for _, v := range natives {
		w := ValueToWire(v)
		back, err := ValueFromWire(w)
		if err != nil {
			t.Fatalf("ValueFromWire(%+v): %v", w, err)
		}
		if back.Tag != v.Tag {
			t.Errorf("round trip tag mismatch: got %v, want %v", back.Tag, v.Tag)
		}
	}
}

func TestValueFromWireWidensUnsigned(t *testing.T) {
	u32 := uint32(0xFFFFFFFF)
	w := Value{Type: "uint32", Uint32: &u32}
	v, err := ValueFromWire(w)
	if err != nil {
		t.Fatalf("ValueFromWire: %v", err)
	}
	if v.Tag != value.TypeInt32 || v.Int32 != -1 {
		t.Fatalf("expected widened int32(-1), got %+v", v)
	}
}

func TestValueFromWireUnknownType(t *testing.T) {
	_, err := ValueFromWire(Value{Type: "not-a-real-type"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized wire type")
	}
}

func TestBucketRoundTripClock(t *testing.T) {
	k := timestamp.NewClockKey(timestamp.UniformClock{Start: timestamp.Timestamp{Seconds: 1000}, PeriodNanos: 1e9, Count: 2})
	b := rawblock.DataBucket{Key: k, Column: rawblock.DataColumn{
		SourceName: "A",
		Values:     []value.Value{{Tag: value.TypeFloat64, Float64: 1}, {Tag: value.TypeFloat64, Float64: 2}},
	}}
	w := BucketToWire(b)
	back, err := BucketFromWire(w)
	if err != nil {
		t.Fatalf("BucketFromWire: %v", err)
	}
	if !timestamp.KeysEquivalent(back.Key, b.Key) {
		t.Errorf("key not equivalent after round trip")
	}
	if back.Column.SourceName != "A" || len(back.Column.Values) != 2 {
		t.Errorf("column mismatch after round trip: %+v", back.Column)
	}
}

func TestBucketRoundTripTimestampList(t *testing.T) {
	l := timestamp.TimestampList{Values: []timestamp.Timestamp{{Seconds: 1000}, {Seconds: 1000, Nanos: 250_000_000}}}
	k := timestamp.NewListKey(l)
	b := rawblock.DataBucket{Key: k, Column: rawblock.DataColumn{SourceName: "C", Values: []value.Value{{Tag: value.TypeFloat64}, {Tag: value.TypeFloat64}}}}
	w := BucketToWire(b)
	back, err := BucketFromWire(w)
	if err != nil {
		t.Fatalf("BucketFromWire: %v", err)
	}
	if !timestamp.KeysEquivalent(back.Key, b.Key) {
		t.Errorf("key not equivalent after round trip")
	}
}

func TestBucketFromWireMissingKeyIsInvalid(t *testing.T) {
	w := DataBucket{Column: DataColumn{Name: "A"}}
	_, err := BucketFromWire(w)
	if err == nil {
		t.Fatal("expected InvalidBucket error when neither clock nor timestamp_list is set")
	}
}

func TestEncodeDecodeResponseMessage(t *testing.T) {
	k := timestamp.NewClockKey(timestamp.UniformClock{Start: timestamp.Timestamp{Seconds: 5}, PeriodNanos: 1e9, Count: 1})
	buckets := []rawblock.DataBucket{{Key: k, Column: rawblock.DataColumn{SourceName: "A", Values: []value.Value{{Tag: value.TypeFloat64, Float64: 42}}}}}

	data, err := EncodeResponseMessage(buckets)
	if err != nil {
		t.Fatalf("EncodeResponseMessage: %v", err)
	}
	msg, err := DecodeResponseMessage(data)
	if err != nil {
		t.Fatalf("DecodeResponseMessage: %v", err)
	}
	if len(msg.Buckets) != 1 {
		t.Fatalf("got %d buckets, want 1", len(msg.Buckets))
	}
	if msg.WireBytes != len(data) {
		t.Errorf("WireBytes = %d, want %d", msg.WireBytes, len(data))
	}
}

func TestRequestSpecRoundTrip(t *testing.T) {
	r := queryspec.New([]string{"b", "a"}, timestamp.Timestamp{Seconds: 10}, timestamp.Timestamp{Seconds: 20}, queryspec.Backward)
	m := RequestToWire(r)
	back := RequestFromWire(m)
	if back.PreferredTransport != queryspec.Backward {
		t.Errorf("got transport %v, want Backward", back.PreferredTransport)
	}
	if back.Begin != r.Begin || back.End != r.End {
		t.Errorf("interval mismatch after round trip")
	}
	if len(back.Sources) != 2 {
		t.Errorf("got %d sources, want 2", len(back.Sources))
	}
}
