package snowflake

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator wraps a snowflake node. Used for trace ids and audit
// record ids; database rows keep auto-increment primary keys.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for the given node id (0..1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &IDGenerator{node: node}, nil
}

// NextID returns the next id as an int64.
func (g *IDGenerator) NextID() int64 {
	return g.node.Generate().Int64()
}

// NextString returns the next id in base-36 string form, compact enough
// for log correlation and message headers.
func (g *IDGenerator) NextString() string {
	return g.node.Generate().Base36()
}
