package worker

import (
	"bytes"
	"encoding/json"
)

// Message is the line envelope used in both directions.
type Message struct {
	Sequence int64           `json:"sequence"`
	Data     json.RawMessage `json:"data"`
}

// CompletionQuery asks for completions at a position in a command.
// An empty query asks for root-level suggestions.
type CompletionQuery struct {
	Subcommand *string `json:"subcommand,omitempty"`
	// Argument is set when completing the value of that flag.
	Argument  string             `json:"argument,omitempty"`
	Arguments map[string]*string `json:"arguments,omitempty"`
}

// HoverCommand identifies what a hover applies to.
type HoverCommand struct {
	Subcommand string `json:"subcommand"`
	Argument   string `json:"argument,omitempty"`
}

// HoverQuery requests documentation for a subcommand or one of its flags.
type HoverQuery struct {
	Request string       `json:"request"`
	Command HoverCommand `json:"command"`
}

// StatusQuery requests the worker's status line.
type StatusQuery struct {
	Request string `json:"request"`
}

// RecommendationQuery requests next-step scenarios for a command history.
type RecommendationQuery struct {
	Request     string `json:"request"`
	CommandList string `json:"commandList"`
}

// Request discriminators.
const (
	RequestHover          = "hover"
	RequestStatus         = "status"
	RequestRecommendation = "recommendation"
)

// CompletionKind classifies a completion item.
type CompletionKind string

const (
	KindGroup         CompletionKind = "group"
	KindCommand       CompletionKind = "command"
	KindArgumentName  CompletionKind = "argument_name"
	KindArgumentValue CompletionKind = "argument_value"
	KindSnippet       CompletionKind = "snippet"
)

// Completion is one item of a completion list.
type Completion struct {
	Name          string         `json:"name"`
	Kind          CompletionKind `json:"kind"`
	Detail        string         `json:"detail,omitempty"`
	Documentation string         `json:"documentation,omitempty"`
	Snippet       string         `json:"snippet,omitempty"`
	SortText      string         `json:"sortText,omitempty"`
	Required      bool           `json:"required,omitempty"`
	Default       bool           `json:"default,omitempty"`
}

// CodeBlock is a hover paragraph rendered as code.
type CodeBlock struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// Paragraph is either Markdown text or a code block.
type Paragraph struct {
	Text string
	Code *CodeBlock
}

// MarshalJSON encodes text paragraphs as strings and code paragraphs as objects.
func (p Paragraph) MarshalJSON() ([]byte, error) {
	if p.Code != nil {
		return json.Marshal(p.Code)
	}
	return json.Marshal(p.Text)
}

// UnmarshalJSON accepts a string or a {language, value} object.
func (p *Paragraph) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		var code CodeBlock
		if err := json.Unmarshal(data, &code); err != nil {
			return err
		}
		*p = Paragraph{Code: &code}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	*p = Paragraph{Text: text}
	return nil
}

// HoverText is the worker's hover answer.
type HoverText struct {
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Status is the worker's status answer.
type Status struct {
	Message string `json:"message"`
}

// CommandInfo is one step of a recommended scenario.
type CommandInfo struct {
	Command    string   `json:"command"`
	Arguments  []string `json:"arguments"`
	Reason     string   `json:"reason"`
	Example    string   `json:"example"`
	IsExecuted *bool    `json:"isExecuted,omitempty"`
}

// Recommendation is a scenario suggested by the worker.
type Recommendation struct {
	Description    string        `json:"description"`
	ExecuteIndex   []int         `json:"executeIndex"`
	NextCommandSet []CommandInfo `json:"nextCommandSet"`
}
