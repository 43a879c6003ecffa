package plan

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Tagging is the result of tag assignment: tag t belongs to output channel t,
// and every node of that channel's origin set carries t.
type Tagging struct {
	NumTags int
	byNode  map[string][]int
}

// AssignTags walks the output channels in order, gives each the next tag and
// adds it to every node of its origin set. A node feeding several channels
// collects several tags.
func AssignTags(g *Graph) (*Tagging, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	t := &Tagging{
		NumTags: len(g.Outputs),
		byNode:  make(map[string][]int),
	}
	for tag, out := range g.Outputs {
		for _, n := range originSet(out.Origin) {
			if !slices.Contains(t.byNode[n.ID], tag) {
				t.byNode[n.ID] = append(t.byNode[n.ID], tag)
			}
		}
	}
	return t, nil
}

// originSet resolves the nodes whose records flow into a channel: all inputs
// of a flatten, the single input of a group or the single bypassed node.
func originSet(o Origin) []*Node {
	switch o.Kind {
	case OriginFlatten:
		return o.Nodes
	default:
		return o.Nodes[:1]
	}
}

// Tags returns the sorted tag set of a node, or nil if it feeds no output.
func (t *Tagging) Tags(nodeID string) []int {
	tags := slices.Clone(t.byNode[nodeID])
	slices.Sort(tags)
	return tags
}

// Nodes returns the ids of all tagged nodes, sorted.
func (t *Tagging) Nodes() []string {
	ids := maps.Keys(t.byNode)
	slices.Sort(ids)
	return ids
}
