// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package value

import (
	"reflect"
	"testing"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
)

func TestRoundTripScalars(t *testing.T) {
	natives := []any{
		true, int32(-7), uint32(7), int64(-9000), uint64(9000),
		float32(1.5), float64(2.25), "hello", []byte{1, 2, 3},
	}
	for _, n := range natives {
		v, err := FromNative(n, DefaultMaxDepth)
		if err != nil {
			t.Fatalf("FromNative(%v): %v", n, err)
		}
		back, err := ToNative(v)
		if err != nil {
			t.Fatalf("ToNative(%v): %v", v, err)
		}
		if !reflect.DeepEqual(back, n) {
			t.Errorf("round trip %v: got %v, want %v", n, back, n)
		}
	}
}

func TestRoundTripArrayAndStruct(t *testing.T) {
	n := map[string]any{
		"list": []any{int32(1), int32(2), "three"},
		"nested": map[string]any{
			"flag": true,
		},
	}
	v, err := FromNative(n, DefaultMaxDepth)
	if err != nil {
		t.Fatalf("FromNative: %v", err)
	}
	back, err := ToNative(v)
	if err != nil {
		t.Fatalf("ToNative: %v", err)
	}
	if !reflect.DeepEqual(back, n) {
		t.Errorf("round trip struct/array: got %#v, want %#v", back, n)
	}
}

func TestFromNativeUnsupportedType(t *testing.T) {
	_, err := FromNative(complex(1, 2), DefaultMaxDepth)
	if qerrors.KindOf(err) != qerrors.UnsupportedType {
		t.Fatalf("expected UnsupportedType, got %v", err)
	}
}

func TestFromNativeDepthExceeded(t *testing.T) {
	deep := []any{[]any{[]any{"too deep"}}}
	_, err := FromNative(deep, 1)
	if qerrors.KindOf(err) != qerrors.DepthExceeded {
		t.Fatalf("expected DepthExceeded, got %v", err)
	}
}

func TestWidenUnsigned(t *testing.T) {
	v := Value{Tag: TypeUint32, Uint32: 0xFFFFFFFF}
	w := WidenUnsigned(v)
	if w.Tag != TypeInt32 || w.Int32 != -1 {
		t.Errorf("widen uint32 max = %+v, want int32(-1)", w)
	}

	v64 := Value{Tag: TypeUint64, Uint64: 1<<64 - 1}
	w64 := WidenUnsigned(v64)
	if w64.Tag != TypeInt64 || w64.Int64 != -1 {
		t.Errorf("widen uint64 max = %+v, want int64(-1)", w64)
	}
}
