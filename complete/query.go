package complete

import (
	"regexp"
	"strings"

	"github.com/Paranoid-AF/azlet/parse"
	"github.com/Paranoid-AF/azlet/worker"
)

// site is the position being completed within a command line.
type site struct {
	input  string
	cursor int
	// parsed holds the tokens before the cursor.
	parsed *parse.ParsedLine
	// partial is the word the cursor is at the end of, nil after whitespace.
	partial *parse.Token
	// start and end delimit the text replaced by a candidate.
	start, end int
	// quote is the unterminated quote character the partial word follows.
	quote byte
}

func locate(input string, cursor int) *site {
	s := &site{input: input, cursor: cursor, start: cursor, end: cursor}
	s.parsed = parse.Line(input[:cursor])
	if n := len(s.parsed.Tokens); n > 0 {
		if last := s.parsed.Tokens[n-1]; last.End() == cursor {
			s.partial = last
			s.start = last.Offset
		}
	}
	for s.end < len(input) && !isSpace(input[s.end]) {
		s.end++
	}
	if s.start > 0 {
		if q := input[s.start-1]; (q == '"' || q == '\'') && strings.Count(input[:s.start], string(q))%2 == 1 {
			s.quote = q
		}
	}
	return s
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

// prefix is the typed part of the word being completed.
func (s *site) prefix() string {
	if s.partial == nil {
		return ""
	}
	return parse.Unquote(s.partial.Text)
}

// complete returns the tokens before the cursor excluding the partial word.
func (s *site) complete() []*parse.Token {
	toks := s.parsed.Tokens
	if s.partial != nil {
		toks = toks[:len(toks)-1]
	}
	return toks
}

// query builds the worker query for the site. ok is false when the line is
// not an az command or the cursor is inside a comment.
func (s *site) query() (q worker.CompletionQuery, ok bool) {
	if s.parsed.Comment != nil {
		return q, false
	}
	done := s.complete()
	if len(done) == 0 {
		return q, true
	}
	if done[0].Kind != parse.KindSubcommand || done[0].Text != "az" {
		return q, false
	}

	var words []string
	for _, tok := range done[1:] {
		if tok.Kind == parse.KindSubcommand {
			words = append(words, tok.Text)
		}
	}
	subcommand := strings.Join(words, " ")
	q.Subcommand = &subcommand
	q.Arguments = parse.ArgumentMap(parse.Line(s.input))

	prev := done[len(done)-1]
	if prev.Kind == parse.KindArgumentName && (s.partial == nil || s.partial.Kind == parse.KindArgumentValue) {
		q.Argument = prev.Text
	}
	return q, true
}

// insertText returns the text that replaces the partial word for c, and the
// cursor offset within it or -1.
func (s *site) insertText(c worker.Completion) (string, int) {
	switch c.Kind {
	case worker.KindSnippet:
		if c.Snippet != "" {
			return expandSnippet(c.Snippet)
		}
	case worker.KindArgumentValue:
		if s.quote != 0 {
			return c.Name + string(s.quote), -1
		}
		return parse.Quote(c.Name), -1
	}
	return c.Name, -1
}

// line returns the whole line after accepting c and the cursor position, nil
// meaning the end of the line.
func (s *site) line(c worker.Completion) (string, *int) {
	insert, at := s.insertText(c)
	head := s.input[:s.start] + insert
	rest := s.input[s.end:]

	var out string
	var pos *int
	if rest == "" {
		out = head
		if at < 0 && c.Kind != worker.KindSnippet {
			out += " "
		}
	} else {
		if !isSpace(rest[0]) {
			rest = " " + rest
		}
		out = head + rest
		p := len(head)
		pos = &p
	}
	if at >= 0 {
		p := s.start + at
		pos = &p
	}
	return out, pos
}

var snippetPlaceholder = regexp.MustCompile(`\$\{(\d+)(?::([^}]*))?\}|\$(\d+)`)

// expandSnippet replaces tab stops with their default text and returns the
// offset of the first one, or -1 when there are none.
func expandSnippet(snippet string) (string, int) {
	var sb strings.Builder
	first := -1
	last := 0
	for _, m := range snippetPlaceholder.FindAllStringSubmatchIndex(snippet, -1) {
		sb.WriteString(snippet[last:m[0]])
		if first < 0 {
			first = sb.Len()
		}
		if m[4] >= 0 {
			sb.WriteString(snippet[m[4]:m[5]])
		}
		last = m[1]
	}
	sb.WriteString(snippet[last:])
	return sb.String(), first
}
