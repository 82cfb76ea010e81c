// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the JSON wire encoding described in spec.md §6
// and its conversion to and from the domain types in pkg/rawblock,
// pkg/value and pkg/queryspec. Grounded on
// internal/metricstoreclient/cc-metric-store.go's APIQueryRequest /
// APIQueryResponse / APIMetricData JSON DTOs — this module's streaming
// transport carries the same kind of flat, field-tagged JSON rather than
// a generated wire format, since no protocol compiler runs here.
package wire

import (
	"encoding/json"

	"github.com/ClusterCockpit/cc-lib/v2/schema"

	"github.com/ClusterCockpit/cc-query-engine/pkg/correlator"
	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
	"github.com/ClusterCockpit/cc-query-engine/pkg/queryspec"
	"github.com/ClusterCockpit/cc-query-engine/pkg/rawblock"
	"github.com/ClusterCockpit/cc-query-engine/pkg/timestamp"
	"github.com/ClusterCockpit/cc-query-engine/pkg/value"
)

// Value is the one-of wire representation from spec.md §6. Exactly one
// field besides Type is populated; Type names which.
type Value struct {
	Type string `json:"type"`

	Bool   *bool         `json:"bool,omitempty"`
	Sint32 *int32        `json:"sint32,omitempty"`
	Uint32 *uint32       `json:"uint32,omitempty"`
	Sint64 *int64        `json:"sint64,omitempty"`
	Uint64 *uint64       `json:"uint64,omitempty"`
	Float  *float32      `json:"float,omitempty"`
	Double *schema.Float `json:"double,omitempty"`
	String *string       `json:"string,omitempty"`
	Bytes  []byte        `json:"bytes,omitempty"`
	Array  []Value       `json:"array,omitempty"`
	Struct []Field       `json:"struct,omitempty"`
	Image  *Image        `json:"image,omitempty"`
}

// Field is one named entry of a wire Struct.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Image is the wire form of value.Image.
type Image struct {
	FileType string `json:"file_type"`
	Bytes    []byte `json:"bytes"`
}

// SamplingClock is the wire form of a uniform clock sampling key.
type SamplingClock struct {
	EpochS   int64 `json:"epoch_s"`
	EpochNs  int64 `json:"epoch_ns"`
	PeriodNs int64 `json:"period_ns"`
	Count    int   `json:"count"`
}

// TimestampList is the wire form of an explicit timestamp list sampling
// key: each entry is the 64-bit nanosecond scalar from spec.md §3.
type TimestampList struct {
	Timestamps []int64 `json:"timestamps"`
}

// DataColumn is the wire form of rawblock.DataColumn.
type DataColumn struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// DataBucket is the wire form of rawblock.DataBucket. Exactly one of
// Clock or TimestampList must be set, per spec.md §6.
type DataBucket struct {
	Clock         *SamplingClock `json:"clock,omitempty"`
	TimestampList *TimestampList `json:"timestamp_list,omitempty"`
	Column        DataColumn     `json:"column"`
}

// ResponseMessage is the repeated-bucket message StreamTasks receive.
type ResponseMessage struct {
	Buckets []DataBucket `json:"buckets"`
}

// StreamType is the wire name of a preferred-transport hint.
type StreamType string

const (
	StreamForward       StreamType = "forward"
	StreamBackward      StreamType = "backward"
	StreamBidirectional StreamType = "bidirectional"
)

// RequestMessage is the wire form of a RequestSpec (spec.md §6).
type RequestMessage struct {
	SourceNames []string   `json:"source_name"`
	BeginTime   int64      `json:"begin_time"`
	EndTime     int64      `json:"end_time"`
	StreamType  StreamType `json:"stream_type"`
}

// ValueToWire converts a domain Value into its wire one-of representation.
func ValueToWire(v value.Value) Value {
	switch v.Tag {
	case value.TypeBool:
		b := v.Bool
		return Value{Type: "bool", Bool: &b}
	case value.TypeInt32:
		n := v.Int32
		return Value{Type: "sint32", Sint32: &n}
	case value.TypeUint32:
		n := v.Uint32
		return Value{Type: "uint32", Uint32: &n}
	case value.TypeInt64:
		n := v.Int64
		return Value{Type: "sint64", Sint64: &n}
	case value.TypeUint64:
		n := v.Uint64
		return Value{Type: "uint64", Uint64: &n}
	case value.TypeFloat32:
		f := float32(v.Float32)
		return Value{Type: "float", Float: &f}
	case value.TypeFloat64:
		f := v.Float64
		return Value{Type: "double", Double: &f}
	case value.TypeString:
		s := v.Str
		return Value{Type: "string", String: &s}
	case value.TypeBytes:
		return Value{Type: "bytes", Bytes: v.Bytes}
	case value.TypeArray:
		arr := make([]Value, len(v.Array))
		for i, elem := range v.Array {
			arr[i] = ValueToWire(elem)
		}
		return Value{Type: "array", Array: arr}
	case value.TypeStruct:
		fields := make([]Field, 0, len(v.Struct))
		for name, elem := range v.Struct {
			fields = append(fields, Field{Name: name, Value: ValueToWire(elem)})
		}
		return Value{Type: "struct", Struct: fields}
	case value.TypeImage:
		return Value{Type: "image", Image: &Image{FileType: v.Image.Format, Bytes: v.Image.Bytes}}
	default:
		return Value{Type: "string", String: new(string)}
	}
}

// ValueFromWire converts a wire Value into its domain representation,
// widening unsigned wire tags to signed per spec.md §9.
func ValueFromWire(w Value) (value.Value, error) {
	switch w.Type {
	case "bool":
		if w.Bool == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "bool value missing bool field")
		}
		return value.Value{Tag: value.TypeBool, Bool: *w.Bool}, nil
	case "sint32":
		if w.Sint32 == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "sint32 value missing sint32 field")
		}
		return value.Value{Tag: value.TypeInt32, Int32: *w.Sint32}, nil
	case "uint32":
		if w.Uint32 == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "uint32 value missing uint32 field")
		}
		return value.WidenUnsigned(value.Value{Tag: value.TypeUint32, Uint32: *w.Uint32}), nil
	case "sint64":
		if w.Sint64 == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "sint64 value missing sint64 field")
		}
		return value.Value{Tag: value.TypeInt64, Int64: *w.Sint64}, nil
	case "uint64":
		if w.Uint64 == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "uint64 value missing uint64 field")
		}
		return value.WidenUnsigned(value.Value{Tag: value.TypeUint64, Uint64: *w.Uint64}), nil
	case "float":
		if w.Float == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "float value missing float field")
		}
		return value.Value{Tag: value.TypeFloat32, Float32: schema.Float(*w.Float)}, nil
	case "double":
		if w.Double == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "double value missing double field")
		}
		return value.Value{Tag: value.TypeFloat64, Float64: *w.Double}, nil
	case "string":
		if w.String == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "string value missing string field")
		}
		return value.Value{Tag: value.TypeString, Str: *w.String}, nil
	case "bytes":
		return value.Value{Tag: value.TypeBytes, Bytes: append([]byte(nil), w.Bytes...)}, nil
	case "array":
		arr := make([]value.Value, len(w.Array))
		for i, elem := range w.Array {
			cv, err := ValueFromWire(elem)
			if err != nil {
				return value.Value{}, err
			}
			arr[i] = cv
		}
		return value.Value{Tag: value.TypeArray, Array: arr}, nil
	case "struct":
		fields := make(map[string]value.Value, len(w.Struct))
		for _, f := range w.Struct {
			cv, err := ValueFromWire(f.Value)
			if err != nil {
				return value.Value{}, err
			}
			fields[f.Name] = cv
		}
		return value.Value{Tag: value.TypeStruct, Struct: fields}, nil
	case "image":
		if w.Image == nil {
			return value.Value{}, qerrors.New(qerrors.UnsupportedType, "image value missing image field")
		}
		return value.Value{Tag: value.TypeImage, Image: value.Image{Format: w.Image.FileType, Bytes: w.Image.Bytes}}, nil
	default:
		return value.Value{}, qerrors.Newf(qerrors.UnsupportedType, "unrecognized wire value type %q", w.Type)
	}
}

// BucketToWire converts a domain DataBucket into its wire form.
func BucketToWire(b rawblock.DataBucket) DataBucket {
	values := make([]Value, len(b.Column.Values))
	for i, v := range b.Column.Values {
		values[i] = ValueToWire(v)
	}
	wb := DataBucket{Column: DataColumn{Name: b.Column.SourceName, Values: values}}
	if b.Key.Tag == timestamp.TagClock {
		wb.Clock = &SamplingClock{
			EpochS:   b.Key.Clock.Start.Seconds,
			EpochNs:  b.Key.Clock.Start.Nanos,
			PeriodNs: b.Key.Clock.PeriodNanos,
			Count:    b.Key.Clock.Count,
		}
	} else {
		nanos := make([]int64, len(b.Key.List.Values))
		for i, ts := range b.Key.List.Values {
			nanos[i] = ts.ToNanos()
		}
		wb.TimestampList = &TimestampList{Timestamps: nanos}
	}
	return wb
}

// BucketFromWire converts a wire DataBucket into its domain form. Fails
// with InvalidBucket when neither Clock nor TimestampList is set.
func BucketFromWire(w DataBucket) (rawblock.DataBucket, error) {
	var key timestamp.SamplingKey
	switch {
	case w.Clock != nil:
		key = timestamp.NewClockKey(timestamp.UniformClock{
			Start:       timestamp.Timestamp{Seconds: w.Clock.EpochS, Nanos: w.Clock.EpochNs},
			PeriodNanos: w.Clock.PeriodNs,
			Count:       w.Clock.Count,
		})
	case w.TimestampList != nil:
		values := make([]timestamp.Timestamp, len(w.TimestampList.Timestamps))
		for i, n := range w.TimestampList.Timestamps {
			values[i] = timestamp.FromNanos(n)
		}
		key = timestamp.NewListKey(timestamp.TimestampList{Values: values})
	default:
		return rawblock.DataBucket{}, qerrors.New(qerrors.InvalidBucket, "bucket has neither clock nor timestamp_list set")
	}

	values := make([]value.Value, len(w.Column.Values))
	for i, wv := range w.Column.Values {
		cv, err := ValueFromWire(wv)
		if err != nil {
			return rawblock.DataBucket{}, err
		}
		values[i] = cv
	}

	b := rawblock.DataBucket{
		Key:    key,
		Column: rawblock.DataColumn{SourceName: w.Column.Name, Values: values},
	}
	return b, b.Validate()
}

// DecodeResponseMessage parses a JSON-encoded ResponseMessage and converts
// every bucket to its domain form, returning a correlator.Message stamped
// with the wire payload's byte length for bytesProcessed accounting
// (SPEC_FULL.md §4).
func DecodeResponseMessage(data []byte) (correlator.Message, error) {
	var rm ResponseMessage
	if err := json.Unmarshal(data, &rm); err != nil {
		return correlator.Message{}, qerrors.Wrap(qerrors.InvalidBucket, "decoding response message failed", err)
	}
	buckets := make([]rawblock.DataBucket, len(rm.Buckets))
	for i, wb := range rm.Buckets {
		b, err := BucketFromWire(wb)
		if err != nil {
			return correlator.Message{}, err
		}
		buckets[i] = b
	}
	return correlator.Message{Buckets: buckets, WireBytes: len(data)}, nil
}

// EncodeResponseMessage is the inverse of DecodeResponseMessage, used by
// test fixtures and the transport layer's mock producers.
func EncodeResponseMessage(buckets []rawblock.DataBucket) ([]byte, error) {
	rm := ResponseMessage{Buckets: make([]DataBucket, len(buckets))}
	for i, b := range buckets {
		rm.Buckets[i] = BucketToWire(b)
	}
	return json.Marshal(rm)
}

// RequestToWire converts a RequestSpec into its wire RequestMessage form.
func RequestToWire(r queryspec.RequestSpec) RequestMessage {
	st := StreamForward
	switch r.PreferredTransport {
	case queryspec.Backward:
		st = StreamBackward
	case queryspec.Bidirectional:
		st = StreamBidirectional
	}
	return RequestMessage{
		SourceNames: append([]string(nil), r.Sources...),
		BeginTime:   r.Begin.ToNanos(),
		EndTime:     r.End.ToNanos(),
		StreamType:  st,
	}
}

// RequestFromWire converts a wire RequestMessage into a RequestSpec.
func RequestFromWire(m RequestMessage) queryspec.RequestSpec {
	preferred := queryspec.Forward
	switch m.StreamType {
	case StreamBackward:
		preferred = queryspec.Backward
	case StreamBidirectional:
		preferred = queryspec.Bidirectional
	}
	return queryspec.New(m.SourceNames, timestamp.FromNanos(m.BeginTime), timestamp.FromNanos(m.EndTime), preferred)
}
