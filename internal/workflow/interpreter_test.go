package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idx(i int) *int { return &i }

// scenarioGraph is start -> userResponse1 -> option[Sales, Support] -> end per branch.
func scenarioGraph() *Graph {
	return NewGraph(
		[]Block{
			{ID: "start", Type: BlockStart, Message: "Welcome!"},
			{ID: "userResponse1", Type: BlockUserResponse},
			{ID: "choose", Type: BlockOption, Options: []string{"Sales", "Support"}},
			{ID: "sales", Type: BlockEnd, Message: "Connecting you to sales."},
			{ID: "support", Type: BlockEnd, Message: "Connecting you to support."},
		},
		[]Connection{
			{From: "start", To: "userResponse1"},
			{From: "userResponse1", To: "choose"},
			{From: "choose", To: "sales", FromOptionIndex: idx(0)},
			{From: "choose", To: "support", FromOptionIndex: idx(1)},
		},
	)
}

func TestAdvance_ScenarioA(t *testing.T) {
	g := scenarioGraph()

	t.Run("userResponse advances silently to option block", func(t *testing.T) {
		res, err := Advance(g, "userResponse1", "hi", "")
		require.NoError(t, err)
		assert.Empty(t, res.Utterances)
		assert.Equal(t, "choose", res.NextPosition)
	})

	t.Run("unmatched option re-prompts and stays", func(t *testing.T) {
		res, err := Advance(g, "choose", "something else", "")
		require.NoError(t, err)
		require.Len(t, res.Utterances, 1)
		assert.Equal(t, DefaultOptionPrompt, res.Utterances[0].Text)
		assert.Equal(t, []string{"Sales", "Support"}, res.Utterances[0].Options)
		assert.Equal(t, "choose", res.NextPosition)
	})

	t.Run("matching option reaches end block", func(t *testing.T) {
		res, err := Advance(g, "choose", "Sales", "")
		require.NoError(t, err)
		require.Len(t, res.Utterances, 1)
		u := res.Utterances[0]
		assert.Equal(t, "Connecting you to sales.", u.Text)
		assert.True(t, u.EndsWorkflowPath)
		assert.True(t, u.RequestsHumanNotification)
		assert.Equal(t, "", res.NextPosition)
		assert.Equal(t, "Sales", res.Choice)
	})
}

func TestAdvance_OptionWithoutBranchEndsPath(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "o", Type: BlockOption, Message: "Pick", Options: []string{"A", "B"}},
			{ID: "a", Type: BlockEnd, Message: "A it is"},
		},
		[]Connection{
			{From: "s", To: "o"},
			{From: "o", To: "a", FromOptionIndex: idx(0)},
		},
	)

	t.Run("valid choice with no connection is a dead end", func(t *testing.T) {
		res, err := Advance(g, "o", "B", "")
		require.NoError(t, err)
		assert.Empty(t, res.Utterances)
		assert.Equal(t, "", res.NextPosition)
		assert.Equal(t, "B", res.Choice)
	})

	t.Run("unknown label still re-prompts", func(t *testing.T) {
		res, err := Advance(g, "o", "C", "")
		require.NoError(t, err)
		require.Len(t, res.Utterances, 1)
		assert.Equal(t, "Pick", res.Utterances[0].Text)
		assert.Equal(t, "o", res.NextPosition)
		assert.Empty(t, res.Choice)
	})
}

func TestAdvance_IsPure(t *testing.T) {
	g := scenarioGraph()
	before := *g

	first, err1 := Advance(g, "choose", "Support", "")
	second, err2 := Advance(g, "choose", "Support", "")

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
	assert.Equal(t, before.Blocks, g.Blocks)
	assert.Equal(t, before.Connections, g.Connections)
}

func TestAdvance_MessageMergesFollowingOptions(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "ask", Type: BlockUserResponse},
			{ID: "m", Type: BlockMessage, Message: "Thanks {{response}}, what do you need?"},
			{ID: "o", Type: BlockOption, Options: []string{"Billing", "Other"}},
		},
		[]Connection{
			{From: "s", To: "ask"},
			{From: "ask", To: "m"},
			{From: "m", To: "o"},
		},
	)

	res, err := Advance(g, "ask", "Dana", "")
	require.NoError(t, err)
	require.Len(t, res.Utterances, 1, "options must ride on the message, not a separate entry")
	assert.Equal(t, "Thanks Dana, what do you need?", res.Utterances[0].Text)
	assert.Equal(t, []string{"Billing", "Other"}, res.Utterances[0].Options)
	assert.Equal(t, "o", res.NextPosition)
}

func TestAdvance_DeadEndFlagsLastUtterance(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "ask", Type: BlockUserResponse},
			{ID: "m1", Type: BlockMessage, Message: "one"},
			{ID: "m2", Type: BlockMessage, Message: "two"},
		},
		[]Connection{
			{From: "s", To: "ask"},
			{From: "ask", To: "m1"},
			{From: "m1", To: "m2"},
		},
	)

	res, err := Advance(g, "ask", "x", "")
	require.NoError(t, err)
	require.Len(t, res.Utterances, 2)
	assert.False(t, res.Utterances[0].EndsWorkflowPath)
	assert.True(t, res.Utterances[1].EndsWorkflowPath)
	assert.False(t, res.Utterances[1].RequestsHumanNotification)
	assert.Equal(t, "", res.NextPosition)
}

func TestAdvance_EndBlockKeepsChaining(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "ask", Type: BlockUserResponse},
			{ID: "e", Type: BlockEnd, Message: "A human will join."},
			{ID: "after", Type: BlockUserResponse, Message: "Meanwhile, tell us more."},
		},
		[]Connection{
			{From: "s", To: "ask"},
			{From: "ask", To: "e"},
			{From: "e", To: "after"},
		},
	)

	res, err := Advance(g, "ask", "help", "")
	require.NoError(t, err)
	require.Len(t, res.Utterances, 2)
	assert.True(t, res.Utterances[0].RequestsHumanNotification)
	assert.Equal(t, "Meanwhile, tell us more.", res.Utterances[1].Text)
	assert.Equal(t, "after", res.NextPosition)
}

func TestAdvance_Condition(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "c", Type: BlockCondition, Condition: "Sales"},
			{ID: "m", Type: BlockMessage, Message: "Sales it is"},
			{ID: "wait", Type: BlockUserResponse},
		},
		[]Connection{
			{From: "s", To: "c"},
			{From: "c", To: "m"},
			{From: "m", To: "wait"},
		},
	)

	t.Run("no match stays silently", func(t *testing.T) {
		res, err := Advance(g, "c", "anything", "Support")
		require.NoError(t, err)
		assert.Empty(t, res.Utterances)
		assert.Equal(t, "c", res.NextPosition)
	})

	t.Run("match follows successor", func(t *testing.T) {
		res, err := Advance(g, "c", "anything", "Sales")
		require.NoError(t, err)
		require.Len(t, res.Utterances, 1)
		assert.Equal(t, "Sales it is", res.Utterances[0].Text)
		assert.Equal(t, "wait", res.NextPosition)
	})
}

func TestAdvance_OptionRoutedThroughConditions(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "o", Type: BlockOption, Options: []string{"Yes", "No"}},
			{ID: "cy", Type: BlockCondition, Condition: "Yes"},
			{ID: "cn", Type: BlockCondition, Condition: "No"},
			{ID: "my", Type: BlockEnd, Message: "Great"},
			{ID: "mn", Type: BlockEnd, Message: "Too bad"},
		},
		[]Connection{
			{From: "s", To: "o"},
			{From: "o", To: "cy"},
			{From: "o", To: "cn"},
			{From: "cy", To: "my"},
			{From: "cn", To: "mn"},
		},
	)

	res, err := Advance(g, "o", "No", "")
	require.NoError(t, err)
	require.Len(t, res.Utterances, 1)
	assert.Equal(t, "Too bad", res.Utterances[0].Text)
	assert.Equal(t, "No", res.Choice)
}

func TestAdvance_UserResponseWithoutSuccessorStays(t *testing.T) {
	g := NewGraph(
		[]Block{{ID: "s", Type: BlockStart}, {ID: "ask", Type: BlockUserResponse}},
		[]Connection{{From: "s", To: "ask"}},
	)

	res, err := Advance(g, "ask", "hello", "")
	require.NoError(t, err)
	assert.Empty(t, res.Utterances)
	assert.Equal(t, "ask", res.NextPosition)
}

func TestAdvance_DanglingReference(t *testing.T) {
	g := NewGraph(
		[]Block{{ID: "s", Type: BlockStart}, {ID: "ask", Type: BlockUserResponse}},
		[]Connection{{From: "s", To: "ask"}, {From: "ask", To: "ghost"}},
	)

	res, err := Advance(g, "ask", "hello", "")
	require.Error(t, err)
	assert.True(t, IsGraphIntegrityError(err))
	assert.Equal(t, "ask", res.NextPosition)

	_, err = Advance(g, "missing", "hello", "")
	assert.True(t, IsGraphIntegrityError(err))
}

func TestAdvance_CycleIsBounded(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart},
			{ID: "a", Type: BlockMessage, Message: "ping"},
			{ID: "b", Type: BlockMessage, Message: "pong"},
		},
		[]Connection{{From: "s", To: "a"}, {From: "a", To: "b"}, {From: "b", To: "a"}},
	)

	res, err := Advance(g, "s", "", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Utterances), len(g.Blocks)+1)
	assert.NotEmpty(t, res.NextPosition)
}

func TestGreeting(t *testing.T) {
	u, pos, err := Greeting(scenarioGraph())
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", u.Text)
	assert.Empty(t, u.Options)
	assert.Equal(t, "userResponse1", pos)
}

func TestGreeting_CarriesLeadingOptions(t *testing.T) {
	g := NewGraph(
		[]Block{
			{ID: "s", Type: BlockStart, Message: "Hi, what brings you here?"},
			{ID: "o", Type: BlockOption, Options: []string{"Buy", "Browse"}},
		},
		[]Connection{{From: "s", To: "o"}},
	)

	u, pos, err := Greeting(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"Buy", "Browse"}, u.Options)
	assert.Equal(t, "o", pos)
}

func TestGreeting_NoSuccessor(t *testing.T) {
	g := NewGraph([]Block{{ID: "s", Type: BlockStart, Message: "Hello"}}, nil)

	u, pos, err := Greeting(g)
	require.NoError(t, err)
	assert.Equal(t, "Hello", u.Text)
	assert.Empty(t, pos)
}
