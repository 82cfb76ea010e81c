// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package value implements the tagged, recursive Value union described in
// spec.md §4.2: scalars, a byte blob, an array, a structure and an image.
package value

import (
	"fmt"

	"github.com/ClusterCockpit/cc-lib/v2/schema"

	"github.com/ClusterCockpit/cc-query-engine/pkg/qerrors"
)

// TypeTag enumerates the closed set of native kinds Value accepts.
type TypeTag int

const (
	TypeBool TypeTag = iota
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeBytes
	TypeArray
	TypeStruct
	TypeImage
)

func (t TypeTag) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeUint32:
		return "uint32"
	case TypeInt64:
		return "int64"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeArray:
		return "array"
	case TypeStruct:
		return "struct"
	case TypeImage:
		return "image"
	default:
		return "unknown"
	}
}

// Image carries an opaque image payload tagged with its file format.
type Image struct {
	Format string
	Bytes  []byte
}

// Value is the recursive tagged union described in spec.md §4.2. Exactly
// one of the typed fields is meaningful, selected by Tag.
type Value struct {
	Tag TypeTag

	Bool    bool
	Int32   int32
	Uint32  uint32
	Int64   int64
	Uint64  uint64
	Float32 schema.Float
	Float64 schema.Float
	Str     string
	Bytes   []byte
	Array   []Value
	Struct  map[string]Value
	Image   Image
}

// DefaultMaxDepth bounds array/struct recursion when no explicit depth is
// configured (spec.md §4.2: "implementations may cap at a configurable
// depth").
const DefaultMaxDepth = 32

// TypeOf returns the tag of v.
func TypeOf(v Value) TypeTag { return v.Tag }

// FromNative converts a native Go value into a Value, recursing through
// slices (-> Array) and map[string]any (-> Struct). Fails with
// UnsupportedType for anything outside the enumerated set, and with
// DepthExceeded once maxDepth nested array/struct levels are exceeded.
func FromNative(v any, maxDepth int) (Value, error) {
	return fromNative(v, maxDepth)
}

func fromNative(v any, depthRemaining int) (Value, error) {
	switch x := v.(type) {
	case bool:
		return Value{Tag: TypeBool, Bool: x}, nil
	case int32:
		return Value{Tag: TypeInt32, Int32: x}, nil
	case uint32:
		return Value{Tag: TypeUint32, Uint32: x}, nil
	case int64:
		return Value{Tag: TypeInt64, Int64: x}, nil
	case uint64:
		return Value{Tag: TypeUint64, Uint64: x}, nil
	case float32:
		return Value{Tag: TypeFloat32, Float32: schema.Float(x)}, nil
	case float64:
		return Value{Tag: TypeFloat64, Float64: schema.Float(x)}, nil
	case string:
		return Value{Tag: TypeString, Str: x}, nil
	case []byte:
		return Value{Tag: TypeBytes, Bytes: append([]byte(nil), x...)}, nil
	case Image:
		return Value{Tag: TypeImage, Image: x}, nil
	case []any:
		if depthRemaining <= 0 {
			return Value{}, qerrors.New(qerrors.DepthExceeded, "array nesting exceeds configured depth")
		}
		arr := make([]Value, len(x))
		for i, elem := range x {
			cv, err := fromNative(elem, depthRemaining-1)
			if err != nil {
				return Value{}, err
			}
			arr[i] = cv
		}
		return Value{Tag: TypeArray, Array: arr}, nil
	case map[string]any:
		if depthRemaining <= 0 {
			return Value{}, qerrors.New(qerrors.DepthExceeded, "struct nesting exceeds configured depth")
		}
		fields := make(map[string]Value, len(x))
		for name, elem := range x {
			cv, err := fromNative(elem, depthRemaining-1)
			if err != nil {
				return Value{}, err
			}
			fields[name] = cv
		}
		return Value{Tag: TypeStruct, Struct: fields}, nil
	default:
		return Value{}, qerrors.Newf(qerrors.UnsupportedType, "unsupported native type %T", v)
	}
}

// ToNative converts a Value back to its native Go representation, the
// inverse of FromNative for any Value built by FromNative (spec.md
// invariant 5: fromNative(toNative(v)) == v).
func ToNative(v Value) (any, error) {
	switch v.Tag {
	case TypeBool:
		return v.Bool, nil
	case TypeInt32:
		return v.Int32, nil
	case TypeUint32:
		return v.Uint32, nil
	case TypeInt64:
		return v.Int64, nil
	case TypeUint64:
		return v.Uint64, nil
	case TypeFloat32:
		return float32(v.Float32), nil
	case TypeFloat64:
		return float64(v.Float64), nil
	case TypeString:
		return v.Str, nil
	case TypeBytes:
		return append([]byte(nil), v.Bytes...), nil
	case TypeImage:
		return v.Image, nil
	case TypeArray:
		out := make([]any, len(v.Array))
		for i, elem := range v.Array {
			nv, err := ToNative(elem)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case TypeStruct:
		out := make(map[string]any, len(v.Struct))
		for name, elem := range v.Struct {
			nv, err := ToNative(elem)
			if err != nil {
				return nil, err
			}
			out[name] = nv
		}
		return out, nil
	default:
		return nil, qerrors.Newf(qerrors.UnsupportedType, "unrecognized value tag %v", v.Tag)
	}
}

// WidenUnsigned implements spec.md §9's "unsigned wire types widen" rule:
// uint32 -> int32, uint64 -> int64, preserving the bit pattern (a
// deliberate narrowing choice, not a range-checked conversion).
func WidenUnsigned(v Value) Value {
	switch v.Tag {
	case TypeUint32:
		return Value{Tag: TypeInt32, Int32: int32(v.Uint32)}
	case TypeUint64:
		return Value{Tag: TypeInt64, Int64: int64(v.Uint64)}
	default:
		return v
	}
}

func (v Value) String() string {
	n, err := ToNative(v)
	if err != nil {
		return fmt.Sprintf("<invalid %s>", v.Tag)
	}
	return fmt.Sprintf("%v", n)
}
