package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	azlet "github.com/Paranoid-AF/azlet"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// entry is one logged REPL interaction.
type entry struct {
	Request    logRequest     `toml:"request"`
	Candidates []logCandidate `toml:"candidates,omitempty"`
	Hover      *logHover      `toml:"hover,omitempty"`
	Status     string         `toml:"status,omitempty"`
	Scenarios  []logScenario  `toml:"scenarios,omitempty"`
	Error      *logError      `toml:"error,omitempty"`
}

type logError struct {
	Code    string `toml:"code"`
	Message string `toml:"message"`
}

func toLogError(err *azlet.Error) *logError {
	if err == nil {
		return nil
	}
	return &logError{Code: err.Code, Message: err.Message}
}

type logRequest struct {
	Timestamp time.Time `toml:"timestamp"`
	Kind      string    `toml:"kind"`
	Input     string    `toml:"input,omitempty"`
	CursorPos int       `toml:"cursor_pos"`
}

type logCandidate struct {
	Completion string `toml:"completion"`
	CursorPos  *int   `toml:"cursor_pos,omitempty"`
	Kind       string `toml:"kind"`
	Detail     string `toml:"detail,omitempty"`
}

type logHover struct {
	Markdown string `toml:"markdown"`
	Start    int    `toml:"start"`
	End      int    `toml:"end"`
}

type logScenario struct {
	Description string   `toml:"description"`
	Commands    []string `toml:"commands"`
}

func newEntry(kind, input string, cursor int) *entry {
	return &entry{Request: logRequest{
		Timestamp: time.Now().Truncate(time.Second),
		Kind:      kind,
		Input:     input,
		CursorPos: cursor,
	}}
}

func (e *entry) addCompletion(resp *azlet.Response) {
	e.Error = toLogError(resp.Error)
	for _, c := range resp.Candidates {
		e.Candidates = append(e.Candidates, logCandidate{
			Completion: c.Completion,
			CursorPos:  c.CursorPos,
			Kind:       c.Kind,
			Detail:     c.Detail,
		})
	}
}

func (e *entry) addRecommendations(resp *azlet.RecommendResponse) {
	e.Error = toLogError(resp.Error)
	for _, s := range resp.Scenarios {
		e.Scenarios = append(e.Scenarios, logScenario{Description: s.Description, Commands: commandLines(s)})
	}
}

func commandLines(r azlet.Recommendation) []string {
	out := make([]string, 0, len(r.Commands))
	for _, c := range r.Commands {
		line := "az " + c.Command
		if c.Executed {
			line += " (done)"
		}
		out = append(out, line)
	}
	return out
}

// writeEntry writes a single TOML-formatted entry to w.
func writeEntry(w io.Writer, e *entry) error {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	if err := toml.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

// printCandidates shows a brief candidate list on the terminal.
func printCandidates(w io.Writer, resp *azlet.Response) {
	printError(w, resp.Error)
	if len(resp.Candidates) == 0 {
		fmt.Fprintf(w, "(no candidates)\r\n")
		return
	}
	for i, c := range resp.Candidates {
		detail := ""
		if c.Detail != "" {
			detail = "  " + c.Detail
		}
		fmt.Fprintf(w, "  %d. %-40s [%s]%s\r\n", i+1, c.Completion, c.Kind, detail)
	}
}

func printScenarios(w io.Writer, resp *azlet.RecommendResponse) {
	printError(w, resp.Error)
	if resp.Current != nil {
		fmt.Fprintf(w, "current: %s\r\n", resp.Current.Description)
		for i, line := range commandLines(*resp.Current) {
			fmt.Fprintf(w, "    %d. %s\r\n", i, line)
		}
	}
	if len(resp.Scenarios) == 0 && resp.Current == nil {
		fmt.Fprintf(w, "(no recommendations)\r\n")
	}
	for i, s := range resp.Scenarios {
		fmt.Fprintf(w, "  %d. %s\r\n", i, s.Description)
		for _, line := range commandLines(s) {
			fmt.Fprintf(w, "       %s\r\n", line)
		}
	}
}

func printError(w io.Writer, err *azlet.Error) {
	if err != nil {
		fmt.Fprintf(w, "error [%s]: %s\r\n", err.Code, err.Message)
	}
}
