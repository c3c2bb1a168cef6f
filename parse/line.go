// Package parse splits az command lines into classified tokens.
//
// The tokenizer is deliberately forgiving: it never fails, and lines that are
// only partially typed (unterminated quotes, trailing flags) still yield a
// usable token set for completion and hover.
package parse

import (
	"regexp"
	"strings"
)

// TokenKind classifies a token within a command line.
type TokenKind string

const (
	KindSubcommand    TokenKind = "subcommand"
	KindArgumentName  TokenKind = "argument_name"
	KindArgumentValue TokenKind = "argument_value"
	KindComment       TokenKind = "comment"
)

// Token is a single match of the line pattern.
type Token struct {
	Kind TokenKind
	// Offset is the byte offset of the token within the line.
	Offset int
	// Length is the byte length of Text.
	Length int
	Text   string
}

// End returns the offset just past the token.
func (t *Token) End() int {
	return t.Offset + t.Length
}

// Argument groups a flag with its value. Either side may be nil: a flag
// without a value, or a value that did not follow an open flag.
type Argument struct {
	Name  *Token
	Value *Token
}

// ParsedLine is the result of tokenizing one line.
type ParsedLine struct {
	// Tokens holds every token in line order.
	Tokens     []*Token
	Subcommand []*Token
	Arguments  []*Argument
	Comment    *Token
}

var tokenPattern = regexp.MustCompile(`"[^"]*"|'[^']*'|#.*|[^\s"'#]+`)

// Line tokenizes a command line.
func Line(line string) *ParsedLine {
	parsed := &ParsedLine{}
	subcommandMode := true
	for _, loc := range tokenPattern.FindAllStringIndex(line, -1) {
		text := line[loc[0]:loc[1]]
		tok := &Token{Offset: loc[0], Length: loc[1] - loc[0], Text: text}
		parsed.Tokens = append(parsed.Tokens, tok)

		switch {
		case strings.HasPrefix(text, "#"):
			subcommandMode = false
			tok.Kind = KindComment
			parsed.Comment = tok
		case strings.HasPrefix(text, "-"):
			subcommandMode = false
			tok.Kind = KindArgumentName
			parsed.Arguments = append(parsed.Arguments, &Argument{Name: tok})
		case subcommandMode:
			tok.Kind = KindSubcommand
			parsed.Subcommand = append(parsed.Subcommand, tok)
		default:
			tok.Kind = KindArgumentValue
			if n := len(parsed.Arguments); n > 0 && parsed.Arguments[n-1].Value == nil {
				parsed.Arguments[n-1].Value = tok
			} else {
				parsed.Arguments = append(parsed.Arguments, &Argument{Value: tok})
			}
		}
	}
	return parsed
}

// FindNode returns the token covering offset, or nil.
func FindNode(parsed *ParsedLine, offset int) *Token {
	for _, tok := range parsed.Tokens {
		if tok.Offset <= offset && offset < tok.End() {
			return tok
		}
	}
	return nil
}

// SubcommandText joins the subcommand words, optionally skipping a leading
// program name such as "az".
func (p *ParsedLine) SubcommandText(skip int) string {
	if skip >= len(p.Subcommand) {
		return ""
	}
	words := make([]string, 0, len(p.Subcommand)-skip)
	for _, tok := range p.Subcommand[skip:] {
		words = append(words, tok.Text)
	}
	return strings.Join(words, " ")
}

// ArgumentMap returns flag names mapped to their unquoted values. Flags
// without a value map to nil; value-only entries are ignored.
func ArgumentMap(parsed *ParsedLine) map[string]*string {
	args := make(map[string]*string)
	for _, arg := range parsed.Arguments {
		if arg.Name == nil {
			continue
		}
		if arg.Value == nil {
			if _, ok := args[arg.Name.Text]; !ok {
				args[arg.Name.Text] = nil
			}
			continue
		}
		v := Unquote(arg.Value.Text)
		args[arg.Name.Text] = &v
	}
	return args
}

// Unquote strips one pair of matching surrounding quotes.
func Unquote(text string) string {
	if len(text) >= 2 {
		first, last := text[0], text[len(text)-1]
		if (first == '"' || first == '\'') && first == last {
			return text[1 : len(text)-1]
		}
	}
	return text
}
