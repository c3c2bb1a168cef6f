// Command azlet-repl is an interactive test REPL for azlet.
// It uses raw terminal input to track cursor position natively and writes
// structured TOML results to stdout.
//
// Tab completes at the cursor, Ctrl-K shows hover documentation and Enter
// adds the line to the script used for recommendations.
//
// Usage:
//
//	./azlet-repl             # interactive, TOML on screen
//	./azlet-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	azlet "github.com/Paranoid-AF/azlet"
	"github.com/Paranoid-AF/azlet/complete"
)

const prompt = "> "

type repl struct {
	engine *complete.Engine
	sess   *complete.Session
	id     string
	tty    io.Writer
	out    io.Writer
	script []string
	reqID  int
}

func main() {
	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Out()
	slog.SetDefault(slog.New(slog.NewTextHandler(&crlfWriter{w: tty}, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := azlet.LoadConfig()
	if err != nil {
		fmt.Fprintf(tty, "config: %v (using defaults)\r\n", err)
		cfg = azlet.DefaultConfig()
	}
	for _, w := range azlet.ValidateConfig(cfg) {
		fmt.Fprintf(tty, "config warning: %s\r\n", w)
	}

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "azlet repl\r\n")
	fmt.Fprintf(tty, "\r\nkeys: Tab complete, Ctrl-K hover, Enter add to script\r\n")
	fmt.Fprintf(tty, "\r\ncommands:\r\n")
	fmt.Fprintf(tty, "  :status        show the status line\r\n")
	fmt.Fprintf(tty, "  :recommend     recommend next commands for the script\r\n")
	fmt.Fprintf(tty, "  :select <n>    follow scenario n\r\n")
	fmt.Fprintf(tty, "  :done <n>      mark command n of the current scenario as run\r\n")
	fmt.Fprintf(tty, "  :clear         forget the script\r\n")
	fmt.Fprintf(tty, "  :quit          exit\r\n\r\n")

	engine := complete.New(cfg, slog.Default())
	defer engine.Close()

	id := uuid.NewString()
	r := &repl{
		engine: engine,
		sess:   engine.NewSession(id),
		id:     id,
		tty:    tty,
		// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
		// passes \n through unchanged when redirected to a file.
		out: termWriter(os.Stdout),
	}
	r.loop(editor)
}

func (r *repl) loop(editor *Editor) {
	text, cursor, action, err := editor.ReadLine(prompt)
	for {
		if err == io.EOF || err == ErrInterrupt {
			return
		}
		if err != nil {
			fmt.Fprintf(r.tty, "read error: %v\r\n", err)
			return
		}

		switch action {
		case ActionComplete:
			if line, pos, ok := r.complete(text, cursor); ok {
				editor.SetLine(line, pos)
			}
			text, cursor, action, err = editor.Continue(prompt)
			continue
		case ActionHover:
			r.hover(text, cursor)
			text, cursor, action, err = editor.Continue(prompt)
			continue
		}

		if !r.command(text) {
			return
		}
		text, cursor, action, err = editor.ReadLine(prompt)
	}
}

// command handles a submitted line. It returns false to exit.
func (r *repl) command(text string) bool {
	ctx := context.Background()
	name, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	switch name {
	case "":
	case ":quit", ":q":
		return false
	case ":status":
		resp := r.engine.Status(ctx)
		printError(r.tty, resp.Error)
		fmt.Fprintf(r.tty, "%s\r\n\r\n", resp.Message)
		e := newEntry("status", "", 0)
		e.Status = resp.Message
		e.Error = toLogError(resp.Error)
		r.log(e)
	case ":recommend":
		r.recommend(&azlet.RecommendRequest{Force: true})
	case ":select":
		n, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(r.tty, "usage: :select <n>\r\n")
			break
		}
		r.recommend(&azlet.RecommendRequest{Select: &n})
	case ":done":
		n, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(r.tty, "usage: :done <n>\r\n")
			break
		}
		r.recommend(&azlet.RecommendRequest{Executed: &n})
	case ":clear":
		r.script = nil
		r.sess.Reset()
	default:
		if strings.HasPrefix(name, ":") {
			fmt.Fprintf(r.tty, "unknown command %s\r\n", name)
			break
		}
		r.script = append(r.script, text)
		fmt.Fprintf(r.tty, "script: %d lines\r\n\r\n", len(r.script))
	}
	return true
}

func (r *repl) complete(text string, cursor int) (string, int, bool) {
	r.reqID++
	resp := r.engine.Complete(context.Background(), &azlet.Request{
		RequestID: r.reqID,
		Input:     text,
		CursorPos: cursor,
		SessionID: r.id,
	})
	printCandidates(r.tty, resp)
	fmt.Fprintf(r.tty, "\r\n")

	e := newEntry("complete", text, cursor)
	e.addCompletion(resp)
	r.log(e)

	if len(resp.Candidates) != 1 {
		return "", 0, false
	}
	c := resp.Candidates[0]
	pos := len(c.Completion)
	if c.CursorPos != nil {
		pos = *c.CursorPos
	}
	return c.Completion, pos, true
}

func (r *repl) hover(text string, cursor int) {
	resp := r.engine.Hover(context.Background(), &azlet.HoverRequest{
		Type:   azlet.TypeHover,
		Input:  text,
		Offset: cursor,
	})
	printError(r.tty, resp.Error)
	if resp.Markdown == "" {
		fmt.Fprintf(r.tty, "(no documentation)\r\n\r\n")
	} else {
		fmt.Fprintf(r.tty, "%s\r\n\r\n", strings.ReplaceAll(resp.Markdown, "\n", "\r\n"))
	}

	e := newEntry("hover", text, cursor)
	e.Hover = &logHover{Markdown: resp.Markdown, Start: resp.Start, End: resp.End}
	e.Error = toLogError(resp.Error)
	r.log(e)
}

func (r *repl) recommend(req *azlet.RecommendRequest) {
	req.Type = azlet.TypeRecommend
	req.SessionID = r.id
	req.Lines = r.script
	req.Line = len(r.script)
	resp := r.engine.Recommend(context.Background(), r.sess, req)
	printScenarios(r.tty, resp)
	fmt.Fprintf(r.tty, "\r\n")

	e := newEntry("recommend", strings.Join(r.script, "\n"), req.Line)
	e.addRecommendations(resp)
	r.log(e)
}

func (r *repl) log(e *entry) {
	if err := writeEntry(r.out, e); err != nil {
		fmt.Fprintf(r.tty, "log error: %v\r\n", err)
	}
}
