package vclock

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	// ErrInvalidNode indicates an empty node id was passed to Increment
	ErrInvalidNode = errors.New("invalid node id")

	// ErrClockOverflow indicates a node counter reached its maximum value.
	// This is fatal for the node identity: the node must be re-provisioned.
	ErrClockOverflow = errors.New("vector clock counter overflow")
)

// Ordering describes the causal relationship between two vector clocks.
type Ordering int

const (
	// Equal means both clocks have identical counters for every node
	Equal Ordering = iota
	// Before means the receiver causally precedes the other clock
	Before
	// After means the receiver causally follows the other clock
	After
	// Concurrent means neither clock dominates the other
	Concurrent
)

// String returns a human-readable name for the ordering.
func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// VectorClock maps node ids to monotonically increasing counters and captures
// the causal history of an entity or a node. The zero value (nil map) is a
// valid empty clock; all operations return new clocks and never mutate the
// receiver, so snapshots stored on change records stay immutable.
type VectorClock map[string]uint64

// New creates an empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Parse deserializes a vector clock from its JSON representation.
// Empty input yields an empty clock.
func Parse(data []byte) (VectorClock, error) {
	if len(data) == 0 {
		return New(), nil
	}
	vc := New()
	if err := json.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("failed to parse vector clock: %w", err)
	}
	return vc, nil
}

// Bytes serializes the clock to JSON. The mapping is always complete:
// every known node appears with its counter.
func (vc VectorClock) Bytes() ([]byte, error) {
	if vc == nil {
		vc = New()
	}
	data, err := json.Marshal(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize vector clock: %w", err)
	}
	return data, nil
}

// Counter returns the counter for a node, 0 if the node is unknown.
func (vc VectorClock) Counter(nodeID string) uint64 {
	return vc[nodeID]
}

// Increment returns a new clock with the given node's counter advanced by one.
// A node only ever increments its own counter. Returns ErrInvalidNode for an
// empty node id and ErrClockOverflow when the counter is exhausted.
func (vc VectorClock) Increment(nodeID string) (VectorClock, error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, ErrInvalidNode
	}
	if vc[nodeID] == math.MaxUint64 {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrClockOverflow)
	}

	next := vc.Clone()
	next[nodeID]++
	return next, nil
}

// Merge returns a new clock holding the component-wise maximum over the union
// of both key sets. Pure function: neither input is modified.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	merged := vc.Clone()
	for node, counter := range other {
		if counter > merged[node] {
			merged[node] = counter
		}
	}
	return merged
}

// Compare determines the causal ordering between two clocks.
// The result is one of Equal, Before, After or Concurrent; vector clocks
// form a partial order, never a total one.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	var less, greater bool

	for node, a := range vc {
		b := other[node]
		if a < b {
			less = true
		} else if a > b {
			greater = true
		}
	}
	for node, b := range other {
		if _, seen := vc[node]; seen {
			continue
		}
		if b > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Dominates reports whether the receiver is strictly newer than other,
// i.e. Compare returns After.
func (vc VectorClock) Dominates(other VectorClock) bool {
	return vc.Compare(other) == After
}

// Clone returns a deep copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	c := make(VectorClock, len(vc))
	for node, counter := range vc {
		c[node] = counter
	}
	return c
}

// Nodes returns the sorted list of node ids known to this clock.
func (vc VectorClock) Nodes() []string {
	nodes := make([]string, 0, len(vc))
	for node := range vc {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// String renders the clock as {node:counter,...} with sorted keys,
// for logs and error messages.
func (vc VectorClock) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, node := range vc.Nodes() {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", node, vc[node])
	}
	b.WriteByte('}')
	return b.String()
}
