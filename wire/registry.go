package wire

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	// ErrTypeConflict means one tag was registered with two different key or
	// value descriptors.
	ErrTypeConflict = errors.New("type conflict")
	// ErrUnresolvedTag means a tag is referenced without a registry entry.
	ErrUnresolvedTag = errors.New("unresolved tag")
)

// Descriptor is the serializable form of one registry entry.
type Descriptor struct {
	Tag   int    `json:"tag"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry is a resolved registry entry.
type Entry struct {
	Tag   int
	Key   KeyCodec
	Value Codec
}

// RegistryBuilder collects per-tag descriptors during compilation. It is
// owned by a single compile step; Build hands out an immutable Registry.
type RegistryBuilder struct {
	descs map[int]Descriptor
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{descs: make(map[int]Descriptor)}
}

// Register records the key and value descriptors of tag. Registering the
// same descriptors again is a no-op; different ones fail with ErrTypeConflict.
func (b *RegistryBuilder) Register(tag int, keyDesc, valueDesc string) error {
	if tag < 0 {
		return fmt.Errorf("register tag %d: negative tag", tag)
	}
	if _, err := LookupCodec(keyDesc); err != nil {
		return fmt.Errorf("register tag %d key: %w", tag, err)
	}
	if _, err := LookupCodec(valueDesc); err != nil {
		return fmt.Errorf("register tag %d value: %w", tag, err)
	}

	d := Descriptor{Tag: tag, Key: keyDesc, Value: valueDesc}
	if prev, ok := b.descs[tag]; ok {
		if prev != d {
			return fmt.Errorf("%w: tag %d registered as (%s, %s), now (%s, %s)",
				ErrTypeConflict, tag, prev.Key, prev.Value, keyDesc, valueDesc)
		}
		return nil
	}
	b.descs[tag] = d
	return nil
}

// Build returns the registry for tags 0..numTags-1. Every tag in that range
// must be registered and no other tag may be.
func (b *RegistryBuilder) Build(numTags int) (*Registry, error) {
	tags := maps.Keys(b.descs)
	slices.Sort(tags)
	for _, tag := range tags {
		if tag >= numTags {
			return nil, fmt.Errorf("%w: tag %d is outside 0..%d", ErrUnresolvedTag, tag, numTags-1)
		}
	}
	descs := make([]Descriptor, 0, numTags)
	for tag := 0; tag < numTags; tag++ {
		d, ok := b.descs[tag]
		if !ok {
			return nil, fmt.Errorf("%w: tag %d has no registered types", ErrUnresolvedTag, tag)
		}
		descs = append(descs, d)
	}
	return NewRegistry(descs)
}

// Registry is the closed table of per-tag codecs for one job. Tag t lives at
// index t, so decoding dispatches by slice index.
type Registry struct {
	entries []Entry
	descs   []Descriptor
}

// NewRegistry rebuilds a registry from descriptors, typically the ones a job
// configuration carries to the workers. Tags must be dense and start at 0.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, len(descs)),
		descs:   slices.Clone(descs),
	}
	for i, d := range descs {
		if d.Tag != i {
			return nil, fmt.Errorf("%w: descriptor %d carries tag %d", ErrUnresolvedTag, i, d.Tag)
		}
		key, err := LookupCodec(d.Key)
		if err != nil {
			return nil, fmt.Errorf("tag %d key: %w", d.Tag, err)
		}
		value, err := LookupCodec(d.Value)
		if err != nil {
			return nil, fmt.Errorf("tag %d value: %w", d.Tag, err)
		}
		r.entries[i] = Entry{Tag: d.Tag, Key: key, Value: value}
	}
	return r, nil
}

func (r *Registry) NumTags() int { return len(r.entries) }

// Descriptors returns a copy of the serializable registry contents.
func (r *Registry) Descriptors() []Descriptor { return slices.Clone(r.descs) }

func (r *Registry) Entry(tag int) (Entry, error) {
	if tag < 0 || tag >= len(r.entries) {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnresolvedTag, tag)
	}
	return r.entries[tag], nil
}
