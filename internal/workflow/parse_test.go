package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "blocks": [
    {"id": "s", "type": "start", "message": "Hi there"},
    {"id": "o", "type": "option", "options": ["Sales", "Support"]},
    {"id": "e1", "type": "end", "message": "Sales will reply"},
    {"id": "e2", "type": "end", "message": "Support will reply"}
  ],
  "connections": [
    {"from": "s", "to": "o"},
    {"from": "o", "to": "e1", "fromOptionIndex": 0},
    {"from": "o", "to": "e2", "fromOptionIndex": 1}
  ]
}`

func TestParse(t *testing.T) {
	g, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	assert.Len(t, g.Blocks, 4)

	b, err := g.FindBlock("e2")
	require.NoError(t, err)
	assert.Equal(t, BlockEnd, b.Type)

	next, err := g.ResolveNext(&g.Blocks[1], "Support")
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "e2", next[0].ID)
}

func TestParse_Empty(t *testing.T) {
	for _, doc := range []string{"", "null", "  ", "{}", `{"blocks": []}`} {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, ErrNoWorkflow, "doc %q", doc)
	}
}

func TestParse_SchemaViolation(t *testing.T) {
	_, err := Parse([]byte(`{"blocks": [{"id": "x", "type": "teleport"}]}`))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestParse_RequiresSingleStart(t *testing.T) {
	_, err := Parse([]byte(`{"blocks": [{"id": "a", "type": "start"}, {"id": "b", "type": "start"}]}`))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestValidate(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "m", Type: BlockMessage, Message: "hi"},
			{ID: "e", Type: BlockEnd},
			{ID: "lonely", Type: BlockMessage},
		},
		[]Connection{
			{From: "s", To: "m"},
			{From: "m", To: "e"},
			{From: "m", To: "ghost"},
			{From: "e", To: "m"},
		},
	)

	issues := Validate(g)
	assert.True(t, HasErrors(issues))

	var msgs []string
	for _, i := range issues {
		msgs = append(msgs, string(i.Severity)+":"+i.BlockID)
	}
	assert.Contains(t, msgs, "error:ghost")
	assert.Contains(t, msgs, "error:lonely")
	assert.Contains(t, msgs, "warning:m")
	assert.Contains(t, msgs, "warning:e")
}

func TestValidate_CleanGraph(t *testing.T) {
	g, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	assert.Empty(t, Validate(g))
}

func TestOutgoingConnections_KeepsDeclarationOrder(t *testing.T) {
	g := NewGraph(
		[]Block{{ID: "a", Type: BlockMessage}, {ID: "b", Type: BlockMessage}, {ID: "c", Type: BlockMessage}},
		[]Connection{{From: "a", To: "c"}, {From: "a", To: "b"}},
	)

	out := g.OutgoingConnections("a")
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].To)

	next, err := g.ResolveNext(&g.Blocks[0], "")
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "c", next[0].ID, "first declared connection wins")
}

func TestValidate_WarnsOnUnwiredOption(t *testing.T) {
	one := 0
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "o", Type: BlockOption, Options: []string{"A", "B"}},
			{ID: "a", Type: BlockEnd},
		},
		[]Connection{{From: "s", To: "o"}, {From: "o", To: "a", FromOptionIndex: &one}},
	)

	issues := Validate(g)
	assert.False(t, HasErrors(issues))
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Equal(t, "o", issues[0].BlockID)
	assert.Contains(t, issues[0].Message, `"B"`)
}

func TestFindBlock_DoesNotMutateLiteralGraph(t *testing.T) {
	g := &Graph{
		Blocks:      []Block{{ID: "s", Type: BlockStart}, {ID: "m", Type: BlockMessage}},
		Connections: []Connection{{From: "s", To: "m"}},
	}

	b, err := g.FindBlock("m")
	require.NoError(t, err)
	assert.Equal(t, BlockMessage, b.Type)
	assert.Nil(t, g.index)

	_, err = g.FindBlock("ghost")
	assert.True(t, IsGraphIntegrityError(err))
	assert.Nil(t, g.index)
}
