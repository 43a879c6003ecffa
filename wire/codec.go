// Package wire holds the per-tag type registry and the tagged key/value
// records that let one physical shuffle carry many logical channels.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

var ErrUnknownCodec = errors.New("unknown codec descriptor")

// Codec serializes one payload type.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}

// KeyCodec is a Codec with a total order, used by the shuffle sort. Values
// that compare equal must encode to identical bytes, since partitioning
// hashes the encoded form.
type KeyCodec interface {
	Codec
	Compare(a, b any) int
}

const protoPrefix = "proto:"

// LookupCodec resolves a descriptor. Supported descriptors are "string",
// "int64", "float64", "bytes", "json" and "proto:<message full name>"; the
// message type must be linked into the binary.
func LookupCodec(desc string) (KeyCodec, error) {
	switch desc {
	case "string":
		return stringCodec{}, nil
	case "int64":
		return int64Codec{}, nil
	case "float64":
		return float64Codec{}, nil
	case "bytes":
		return bytesCodec{}, nil
	case "json":
		return jsonCodec{}, nil
	}
	if name, ok := strings.CutPrefix(desc, protoPrefix); ok {
		mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrUnknownCodec, desc, err)
		}
		return protoCodec{mt: mt}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, desc)
}

// ProtoDescriptor returns the descriptor of a protobuf message type.
func ProtoDescriptor(m proto.Message) string {
	return protoPrefix + string(m.ProtoReflect().Descriptor().FullName())
}

type stringCodec struct{}

func (stringCodec) Name() string { return "string" }

func (stringCodec) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("string codec: got %T", v)
	}
	return []byte(s), nil
}

func (stringCodec) Decode(b []byte) (any, error) { return string(b), nil }

func (stringCodec) Compare(a, b any) int { return strings.Compare(a.(string), b.(string)) }

// int64Codec flips the sign bit so the big-endian bytes sort like the numbers.
type int64Codec struct{}

func (int64Codec) Name() string { return "int64" }

func (int64Codec) Encode(v any) ([]byte, error) {
	n, ok := asInt64(v)
	if !ok {
		return nil, fmt.Errorf("int64 codec: got %T", v)
	}
	return binary.BigEndian.AppendUint64(nil, uint64(n)^(1<<63)), nil
}

func (int64Codec) Decode(b []byte) (any, error) {
	if len(b) != 8 {
		return nil, fmt.Errorf("int64 codec: want 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}

// Compare accepts the same integer types as Encode.
func (int64Codec) Compare(a, b any) int {
	x, okX := asInt64(a)
	y, okY := asInt64(b)
	if !okX || !okY {
		panic(fmt.Sprintf("int64 codec: cannot compare %T with %T", a, b))
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	return 0, false
}

type float64Codec struct{}

func (float64Codec) Name() string { return "float64" }

func (float64Codec) Encode(v any) ([]byte, error) {
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("float64 codec: got %T", v)
	}
	switch {
	case f == 0:
		f = 0 // -0 and 0 compare equal, so they must share an encoding
	case math.IsNaN(f):
		f = math.NaN()
	}
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(f)), nil
}

func (float64Codec) Decode(b []byte) (any, error) {
	if len(b) != 8 {
		return nil, fmt.Errorf("float64 codec: want 8 bytes, got %d", len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// Compare orders every NaN after +Inf, all NaNs equal.
func (float64Codec) Compare(a, b any) int {
	x, y := a.(float64), b.(float64)
	xNaN, yNaN := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xNaN && yNaN:
		return 0
	case xNaN:
		return 1
	case yNaN:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

type bytesCodec struct{}

func (bytesCodec) Name() string { return "bytes" }

func (bytesCodec) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("bytes codec: got %T", v)
	}
	return bytes.Clone(b), nil
}

func (bytesCodec) Decode(b []byte) (any, error) { return bytes.Clone(b), nil }

func (bytesCodec) Compare(a, b any) int { return bytes.Compare(a.([]byte), b.([]byte)) }

// jsonCodec orders by the encoded bytes. encoding/json sorts map keys, so
// equal values always encode the same way.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Decode(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	return v, nil
}

func (c jsonCodec) Compare(a, b any) int { return compareEncoded(c, a, b) }

type protoCodec struct {
	mt protoreflect.MessageType
}

func (c protoCodec) Name() string { return protoPrefix + string(c.mt.Descriptor().FullName()) }

func (c protoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%s codec: got %T", c.Name(), v)
	}
	if got := m.ProtoReflect().Descriptor().FullName(); got != c.mt.Descriptor().FullName() {
		return nil, fmt.Errorf("%s codec: got message %s", c.Name(), got)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (c protoCodec) Decode(b []byte) (any, error) {
	m := c.mt.New().Interface()
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%s codec: %w", c.Name(), err)
	}
	return m, nil
}

func (c protoCodec) Compare(a, b any) int { return compareEncoded(c, a, b) }

func compareEncoded(c Codec, a, b any) int {
	x, errA := c.Encode(a)
	y, errB := c.Encode(b)
	if errA != nil || errB != nil {
		panic(fmt.Sprintf("%s: comparing unencodable keys: %v, %v", c.Name(), errA, errB))
	}
	return bytes.Compare(x, y)
}
