package wire

import (
	"fmt"
	"hash/fnv"
)

const HashPartitionerName = "tagged-hash"

// Partitioner routes an encoded tagged key to a reduce task. It must be a
// pure function of its arguments: every map task calls it independently.
type Partitioner interface {
	Name() string
	Partition(encodedKey []byte, numPartitions int) int
}

// HashPartitioner hashes the whole encoded key, which is the (tag, key) pair,
// so equal keys of one tag always meet on the same reducer.
type HashPartitioner struct{}

func (HashPartitioner) Name() string { return HashPartitionerName }

func (HashPartitioner) Partition(encodedKey []byte, numPartitions int) int {
	if numPartitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(encodedKey)
	return int(h.Sum32()&0x7fffffff) % numPartitions
}

func LookupPartitioner(name string) (Partitioner, error) {
	switch name {
	case HashPartitionerName, "":
		return HashPartitioner{}, nil
	}
	return nil, fmt.Errorf("unknown partitioner %q", name)
}
