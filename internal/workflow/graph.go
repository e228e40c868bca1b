// Package workflow models an owner-authored conversation graph and the
// interpreter that advances a chat through it one visitor turn at a time.
package workflow

// BlockType is the behaviour class of a block.
type BlockType string

const (
	BlockStart        BlockType = "start"
	BlockMessage      BlockType = "message"
	BlockUserResponse BlockType = "userResponse"
	BlockOption       BlockType = "option"
	BlockCondition    BlockType = "condition"
	BlockEnd          BlockType = "end"
)

// Block is one node of the graph.
type Block struct {
	ID        string    `json:"id" yaml:"id"`
	Type      BlockType `json:"type" yaml:"type"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
	Options   []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Condition string    `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// WaitsForInput reports whether the chain must pause at this block.
func (b *Block) WaitsForInput() bool {
	return b.Type == BlockUserResponse || b.Type == BlockOption
}

// Connection is a directed edge. FromOptionIndex disambiguates the branches
// leaving an option block.
type Connection struct {
	From            string `json:"from" yaml:"from"`
	To              string `json:"to" yaml:"to"`
	FromOptionIndex *int   `json:"fromOptionIndex,omitempty" yaml:"fromOptionIndex,omitempty"`
}

// Graph is an immutable workflow loaded for a single turn.
type Graph struct {
	Blocks      []Block      `json:"blocks" yaml:"blocks"`
	Connections []Connection `json:"connections" yaml:"connections"`

	index map[string]int
}

// NewGraph builds a graph and its block index. Callers that decode a Graph
// themselves should go through Parse instead.
func NewGraph(blocks []Block, conns []Connection) *Graph {
	g := &Graph{Blocks: blocks, Connections: conns}
	g.buildIndex()
	return g
}

func (g *Graph) buildIndex() {
	g.index = make(map[string]int, len(g.Blocks))
	for i, b := range g.Blocks {
		// first declaration wins on duplicate ids; Validate reports them
		if _, dup := g.index[b.ID]; !dup {
			g.index[b.ID] = i
		}
	}
}

// Start returns the start block.
func (g *Graph) Start() (*Block, bool) {
	for i := range g.Blocks {
		if g.Blocks[i].Type == BlockStart {
			return &g.Blocks[i], true
		}
	}
	return nil, false
}

// FindBlock looks up a block by id. A miss is a GraphIntegrityError.
func (g *Graph) FindBlock(id string) (*Block, error) {
	if g.index != nil {
		if i, ok := g.index[id]; ok {
			return &g.Blocks[i], nil
		}
		return nil, &GraphIntegrityError{BlockID: id}
	}
	// decoded without NewGraph; scan rather than write an index
	for i := range g.Blocks {
		if g.Blocks[i].ID == id {
			return &g.Blocks[i], nil
		}
	}
	return nil, &GraphIntegrityError{BlockID: id}
}

// OutgoingConnections returns the edges leaving blockID in declaration order.
func (g *Graph) OutgoingConnections(blockID string) []Connection {
	var out []Connection
	for _, c := range g.Connections {
		if c.From == blockID {
			out = append(out, c)
		}
	}
	return out
}

// ResolveNext returns the blocks a chat moves to from block given the
// visitor's input. For condition blocks, input is the comparison value.
//
// An option block with no matching label resolves to nothing, and so does a
// condition whose value differs from input. Other block types follow their
// first outgoing connection.
func (g *Graph) ResolveNext(block *Block, input string) ([]*Block, error) {
	conns := g.OutgoingConnections(block.ID)

	switch block.Type {
	case BlockOption:
		idx := optionIndex(block.Options, input)
		if idx < 0 {
			return nil, nil
		}
		var indexed, unindexed []Connection
		for _, c := range conns {
			if c.FromOptionIndex == nil {
				unindexed = append(unindexed, c)
				continue
			}
			if *c.FromOptionIndex == idx {
				indexed = append(indexed, c)
			}
		}
		if hasIndexed(conns) {
			return g.targets(indexed)
		}
		// routed through successor condition blocks
		return g.targets(unindexed)

	case BlockCondition:
		if block.Condition != input || len(conns) == 0 {
			return nil, nil
		}
		return g.targets(conns[:1])

	default:
		if len(conns) == 0 {
			return nil, nil
		}
		return g.targets(conns[:1])
	}
}

func (g *Graph) targets(conns []Connection) ([]*Block, error) {
	out := make([]*Block, 0, len(conns))
	for _, c := range conns {
		b, err := g.FindBlock(c.To)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func hasIndexed(conns []Connection) bool {
	for _, c := range conns {
		if c.FromOptionIndex != nil {
			return true
		}
	}
	return false
}

func optionIndex(options []string, input string) int {
	for i, o := range options {
		if o == input {
			return i
		}
	}
	return -1
}
