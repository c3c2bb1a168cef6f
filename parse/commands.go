package parse

import (
	"encoding/json"
	"strings"
)

// DefaultMaxCommands bounds how many history lines feed a recommendation.
const DefaultMaxCommands = 30

// CommandEntry is one az invocation extracted from a script.
type CommandEntry struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
}

// Command extracts the subcommand and flag names of an az invocation.
// It returns false for lines that are not az commands or have no subcommand.
func Command(line string) (CommandEntry, bool) {
	var words []string
	args := []string{}
	first := true
	subcommandMode := true
	for _, text := range tokenPattern.FindAllString(line, -1) {
		if strings.HasPrefix(text, "#") {
			break
		}
		if first {
			if text != "az" {
				return CommandEntry{}, false
			}
			first = false
			continue
		}
		switch {
		case strings.HasPrefix(text, "-"):
			subcommandMode = false
			args = append(args, text)
		case subcommandMode:
			words = append(words, text)
		}
	}
	if len(words) == 0 {
		return CommandEntry{}, false
	}
	return CommandEntry{Command: strings.Join(words, " "), Arguments: args}, true
}

// CommandList collects up to max az invocations from lines. max <= 0 uses
// DefaultMaxCommands.
func CommandList(lines []string, max int) []CommandEntry {
	if max <= 0 {
		max = DefaultMaxCommands
	}
	var out []CommandEntry
	for _, line := range lines {
		if len(out) >= max {
			break
		}
		if entry, ok := Command(line); ok {
			out = append(out, entry)
		}
	}
	return out
}

// EncodeCommandList renders entries in the worker's commandList format: a JSON
// array whose elements are themselves JSON-encoded entries. No entries
// encode to the empty string.
func EncodeCommandList(entries []CommandEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return "", err
		}
		items = append(items, string(b))
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormatSample normalizes a recommended example command. Values are grouped
// under their flag in first-seen flag order, and a value naming a variable
// ($name) is shown as a placeholder (<name>).
func FormatSample(sample string) string {
	var b strings.Builder
	var flags []string
	values := make(map[string][]string)
	subcommandMode := true
	for _, text := range tokenPattern.FindAllString(sample, -1) {
		switch {
		case strings.HasPrefix(text, "-"):
			subcommandMode = false
			flags = append(flags, text)
		case subcommandMode:
			b.WriteString(text)
			b.WriteByte(' ')
		default:
			last := flags[len(flags)-1]
			values[last] = append(values[last], text)
		}
	}
	for _, flag := range flags {
		b.WriteString(flag)
		b.WriteByte(' ')
		vs, ok := values[flag]
		if !ok {
			continue
		}
		// A repeated flag collects values for every occurrence; only print them once.
		delete(values, flag)
		v := strings.Join(vs, " ")
		if strings.HasPrefix(v, "$") {
			v = "<" + v[1:] + ">"
		}
		b.WriteString(v)
		b.WriteByte(' ')
	}
	return strings.TrimRight(b.String(), " ")
}
