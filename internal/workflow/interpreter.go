package workflow

import (
	"regexp"
)

// DefaultOptionPrompt is re-sent with the choices when a visitor's reply
// matches none of them and the option block has no text of its own.
const DefaultOptionPrompt = "Please choose one"

var responsePlaceholder = regexp.MustCompile(`\{\{\s*response\s*\}\}`)

// Utterance is one bot message produced by a turn.
type Utterance struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`

	// EndsWorkflowPath marks that the scripted path is exhausted and the
	// conversation should be handed to AI or a human.
	EndsWorkflowPath bool `json:"ends_workflow_path,omitempty"`
	// RequestsHumanNotification asks the session to alert staff.
	RequestsHumanNotification bool `json:"requests_human_notification,omitempty"`
}

// TurnResult is what one call to Advance produced.
type TurnResult struct {
	Utterances []Utterance `json:"utterances"`
	// NextPosition is the block to persist; empty deactivates the workflow.
	NextPosition string `json:"next_position"`
	// Choice is the comparison value to persist for later condition blocks.
	Choice string `json:"choice,omitempty"`
}

// HasVisibleText reports whether any utterance carries text for the visitor.
func (r TurnResult) HasVisibleText() bool {
	for _, u := range r.Utterances {
		if u.Text != "" {
			return true
		}
	}
	return false
}

// EndsWorkflowPath reports whether any utterance ended the scripted path.
func (r TurnResult) EndsWorkflowPath() bool {
	for _, u := range r.Utterances {
		if u.EndsWorkflowPath {
			return true
		}
	}
	return false
}

// RequestsHumanNotification reports whether any utterance asked for staff.
func (r TurnResult) RequestsHumanNotification() bool {
	for _, u := range r.Utterances {
		if u.RequestsHumanNotification {
			return true
		}
	}
	return false
}

// Advance moves a chat paused at position one visitor turn forward.
//
// input is the visitor's text; comparison is the value condition blocks are
// matched against (the last option selected). Advance never mutates g and
// performs no I/O, so identical arguments always give identical results. A
// GraphIntegrityError is returned together with the unchanged position.
func Advance(g *Graph, position, input, comparison string) (TurnResult, error) {
	res := TurnResult{NextPosition: position, Choice: comparison}

	cur, err := g.FindBlock(position)
	if err != nil {
		return res, err
	}

	var next []*Block
	switch cur.Type {
	case BlockStart, BlockUserResponse:
		next, err = g.ResolveNext(cur, input)
	case BlockOption:
		if optionIndex(cur.Options, input) < 0 {
			res.Utterances = []Utterance{reprompt(cur)}
			return res, nil
		}
		res.Choice = input
		next, err = g.ResolveNext(cur, input)
		if err == nil && len(next) == 0 {
			// valid choice with no branch: the scripted path ends here
			res.NextPosition = ""
			return res, nil
		}
	case BlockCondition:
		next, err = g.ResolveNext(cur, comparison)
	default:
		// message or end block not yet delivered
		next = []*Block{cur}
	}
	if err != nil {
		return TurnResult{NextPosition: position, Choice: comparison}, err
	}
	if len(next) == 0 {
		return res, nil
	}

	c := chain{graph: g, input: input, res: res, from: cur}
	if err := c.run(next); err != nil {
		return TurnResult{NextPosition: position, Choice: comparison}, err
	}
	return c.res, nil
}

// Greeting returns the start block's utterance, delivered when a chat is
// created, and the position the new chat should wait at. When the start
// block leads straight to an option block its choices ride on the greeting.
func Greeting(g *Graph) (Utterance, string, error) {
	start, ok := g.Start()
	if !ok {
		return Utterance{}, "", &ConfigurationError{Problems: []string{"missing start block"}}
	}
	next, err := g.ResolveNext(start, "")
	if err != nil {
		return Utterance{}, "", err
	}

	u := Utterance{Text: start.Message}
	if len(next) == 0 {
		return u, "", nil
	}
	if next[0].Type == BlockOption {
		u.Options = append([]string(nil), next[0].Options...)
	}
	return u, next[0].ID, nil
}

type chain struct {
	graph *Graph
	input string
	res   TurnResult
	from  *Block
}

func (c *chain) run(cands []*Block) error {
	limit := len(c.graph.Blocks) + 1

	for steps := 0; len(cands) > 0; steps++ {
		if steps >= limit {
			// cyclic graph; resume here next turn
			c.res.NextPosition = cands[0].ID
			return nil
		}

		b := c.pick(cands)
		if b == nil {
			// no condition candidate matched the current choice
			if len(cands) == 1 {
				c.res.NextPosition = cands[0].ID
			} else {
				c.res.NextPosition = c.from.ID
			}
			return nil
		}
		c.from = b

		switch b.Type {
		case BlockUserResponse:
			if b.Message != "" {
				c.emit(Utterance{Text: c.render(b.Message)})
			}
			c.res.NextPosition = b.ID
			return nil

		case BlockOption:
			c.res.NextPosition = b.ID
			return nil

		case BlockMessage:
			next, err := c.graph.ResolveNext(b, c.input)
			if err != nil {
				return err
			}
			text := c.render(b.Message)
			if len(next) > 0 && next[0].Type == BlockOption {
				c.emit(Utterance{Text: text, Options: append([]string(nil), next[0].Options...)})
				c.res.NextPosition = next[0].ID
				return nil
			}
			if text != "" {
				c.emit(Utterance{Text: text})
			}
			cands = next

		case BlockEnd:
			c.emit(Utterance{
				Text:                      c.render(b.Message),
				EndsWorkflowPath:          true,
				RequestsHumanNotification: true,
			})
			next, err := c.graph.ResolveNext(b, c.input)
			if err != nil {
				return err
			}
			if len(next) == 0 {
				c.res.NextPosition = ""
				return nil
			}
			cands = next

		case BlockCondition:
			next, err := c.graph.ResolveNext(b, c.res.Choice)
			if err != nil {
				return err
			}
			cands = next

		case BlockStart:
			next, err := c.graph.ResolveNext(b, c.input)
			if err != nil {
				return err
			}
			cands = next
		}
	}

	// dead end: nothing follows the last processed block
	if n := len(c.res.Utterances); n > 0 {
		c.res.Utterances[n-1].EndsWorkflowPath = true
	}
	c.res.NextPosition = ""
	return nil
}

// pick chooses which candidate the chain continues with: the first
// non-condition block, or the first condition matching the current choice.
func (c *chain) pick(cands []*Block) *Block {
	for _, b := range cands {
		if b.Type != BlockCondition || b.Condition == c.res.Choice {
			return b
		}
	}
	return nil
}

func (c *chain) emit(u Utterance) {
	c.res.Utterances = append(c.res.Utterances, u)
}

func (c *chain) render(text string) string {
	return responsePlaceholder.ReplaceAllLiteralString(text, c.input)
}

func reprompt(b *Block) Utterance {
	text := b.Message
	if text == "" {
		text = DefaultOptionPrompt
	}
	return Utterance{Text: text, Options: append([]string(nil), b.Options...)}
}
