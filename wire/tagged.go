package wire

import (
	"encoding/binary"
	"fmt"
)

// TaggedKey is the shuffle key: a logical key plus the tag that says how to
// decode and order it.
type TaggedKey struct {
	Tag int
	Key any
}

// TaggedValue is the shuffle value, decoded with the value codec of its tag.
type TaggedValue struct {
	Tag   int
	Value any
}

// EncodeKey writes uvarint(tag) followed by the payload.
func (r *Registry) EncodeKey(k TaggedKey) ([]byte, error) {
	e, err := r.Entry(k.Tag)
	if err != nil {
		return nil, err
	}
	payload, err := e.Key.Encode(k.Key)
	if err != nil {
		return nil, fmt.Errorf("encode key for tag %d: %w", k.Tag, err)
	}
	return appendTagged(k.Tag, payload), nil
}

func (r *Registry) DecodeKey(b []byte) (TaggedKey, error) {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return TaggedKey{}, err
	}
	e, err := r.Entry(tag)
	if err != nil {
		return TaggedKey{}, err
	}
	key, err := e.Key.Decode(payload)
	if err != nil {
		return TaggedKey{}, fmt.Errorf("decode key for tag %d: %w", tag, err)
	}
	return TaggedKey{Tag: tag, Key: key}, nil
}

func (r *Registry) EncodeValue(v TaggedValue) ([]byte, error) {
	e, err := r.Entry(v.Tag)
	if err != nil {
		return nil, err
	}
	payload, err := e.Value.Encode(v.Value)
	if err != nil {
		return nil, fmt.Errorf("encode value for tag %d: %w", v.Tag, err)
	}
	return appendTagged(v.Tag, payload), nil
}

func (r *Registry) DecodeValue(b []byte) (TaggedValue, error) {
	tag, payload, err := splitTagged(b)
	if err != nil {
		return TaggedValue{}, err
	}
	e, err := r.Entry(tag)
	if err != nil {
		return TaggedValue{}, err
	}
	value, err := e.Value.Decode(payload)
	if err != nil {
		return TaggedValue{}, fmt.Errorf("decode value for tag %d: %w", tag, err)
	}
	return TaggedValue{Tag: tag, Value: value}, nil
}

// CompareKeys orders by tag first and then by the tag's key order, so a sorted
// run of keys holds each tag contiguously. Both keys must have been decoded by
// this registry.
func (r *Registry) CompareKeys(a, b TaggedKey) int {
	switch {
	case a.Tag < b.Tag:
		return -1
	case a.Tag > b.Tag:
		return 1
	}
	return r.entries[a.Tag].Key.Compare(a.Key, b.Key)
}

func appendTagged(tag int, payload []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(payload))
	buf = binary.AppendUvarint(buf, uint64(tag))
	return append(buf, payload...)
}

func splitTagged(b []byte) (int, []byte, error) {
	tag, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, nil, fmt.Errorf("malformed tagged record: bad tag prefix")
	}
	return int(tag), b[n:], nil
}
