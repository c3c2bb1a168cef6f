package main

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

// Action is what ended a read.
type Action int

const (
	// ActionSubmit is Enter: the line is finished.
	ActionSubmit Action = iota
	// ActionComplete is Tab: complete at the cursor and keep editing.
	ActionComplete
	// ActionHover is Ctrl-K: show documentation for the token at the cursor.
	ActionHover
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// Editor is a minimal line editor with cursor tracking.
// It reads from /dev/tty so it works even when stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State
	in       io.Reader
	out      io.Writer
	buf      []byte
	pos      int // cursor byte offset into buf
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open /dev/tty")
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, errors.Wrap(err, "raw mode")
	}

	return &Editor{tty: tty, oldState: old, in: tty, out: tty}, nil
}

// newEditorIO creates an editor over plain streams, without a terminal.
func newEditorIO(in io.Reader, out io.Writer) *Editor {
	return &Editor{in: in, out: out}
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	if e.tty == nil {
		return
	}
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Out returns the writer for prompts and UI.
func (e *Editor) Out() io.Writer {
	return e.out
}

// SetLine replaces the buffer and cursor, for example after accepting a
// completion. cursor is clamped to the line.
func (e *Editor) SetLine(text string, cursor int) {
	e.buf = append(e.buf[:0], text...)
	if cursor < 0 || cursor > len(e.buf) {
		cursor = len(e.buf)
	}
	e.pos = cursor
}

// ReadLine displays the prompt and reads a new line.
// Returns io.EOF when the user presses Ctrl-D on empty input.
func (e *Editor) ReadLine(prompt string) (text string, cursor int, action Action, err error) {
	e.SetLine("", 0)
	return e.Continue(prompt)
}

// Continue redraws the current buffer and keeps editing it until Enter, Tab
// or Ctrl-K.
func (e *Editor) Continue(prompt string) (text string, cursor int, action Action, err error) {
	e.redraw(prompt)

	var esc [8]byte // buffer for escape sequences

	for {
		var b [1]byte
		if _, err := io.ReadFull(e.in, b[:]); err != nil {
			return "", 0, ActionSubmit, err
		}

		switch b[0] {
		case 3: // Ctrl-C
			fmt.Fprintf(e.out, "\r\n")
			return "", 0, ActionSubmit, ErrInterrupt

		case 4: // Ctrl-D
			if len(e.buf) == 0 {
				fmt.Fprintf(e.out, "\r\n")
				return "", 0, ActionSubmit, io.EOF
			}

		case 13, 10: // Enter
			fmt.Fprintf(e.out, "\r\n")
			return string(e.buf), e.pos, ActionSubmit, nil

		case 9: // Tab
			fmt.Fprintf(e.out, "\r\n")
			return string(e.buf), e.pos, ActionComplete, nil

		case 11: // Ctrl-K
			fmt.Fprintf(e.out, "\r\n")
			return string(e.buf), e.pos, ActionHover, nil

		case 127, 8: // Backspace / Ctrl-H
			if e.pos > 0 {
				_, size := prevRune(e.buf, e.pos)
				copy(e.buf[e.pos-size:], e.buf[e.pos:])
				e.buf = e.buf[:len(e.buf)-size]
				e.pos -= size
			}

		case 1: // Ctrl-A (Home)
			e.pos = 0

		case 5: // Ctrl-E (End)
			e.pos = len(e.buf)

		case 21: // Ctrl-U (clear line)
			e.buf = e.buf[:0]
			e.pos = 0

		case 27: // Escape sequence
			if n, _ := e.in.Read(esc[:1]); n == 0 || esc[0] != '[' {
				continue
			}
			if n, _ := e.in.Read(esc[1:2]); n == 0 {
				continue
			}
			switch esc[1] {
			case 'D': // Left
				if e.pos > 0 {
					_, size := prevRune(e.buf, e.pos)
					e.pos -= size
				}
			case 'C': // Right
				if e.pos < len(e.buf) {
					_, size := utf8.DecodeRune(e.buf[e.pos:])
					e.pos += size
				}
			case 'H': // Home
				e.pos = 0
			case 'F': // End
				e.pos = len(e.buf)
			case '3': // Delete key: \x1b[3~
				e.in.Read(esc[2:3]) // consume '~'
				if e.pos < len(e.buf) {
					_, size := utf8.DecodeRune(e.buf[e.pos:])
					copy(e.buf[e.pos:], e.buf[e.pos+size:])
					e.buf = e.buf[:len(e.buf)-size]
				}
			case '1': // Home: \x1b[1~
				e.in.Read(esc[2:3])
				e.pos = 0
			case '4': // End: \x1b[4~
				e.in.Read(esc[2:3])
				e.pos = len(e.buf)
			}

		default: // Printable character
			if b[0] >= 32 {
				ch := []byte{b[0]}
				if b[0] >= 0xC0 {
					tmp := make([]byte, utf8RuneLen(b[0])-1)
					io.ReadFull(e.in, tmp)
					ch = append(ch, tmp...)
				}
				// Insert at cursor position
				e.buf = append(e.buf, make([]byte, len(ch))...)
				copy(e.buf[e.pos+len(ch):], e.buf[e.pos:len(e.buf)-len(ch)])
				copy(e.buf[e.pos:], ch)
				e.pos += len(ch)
			}
		}

		e.redraw(prompt)
	}
}

// redraw clears the current line and redraws prompt + buffer with cursor.
func (e *Editor) redraw(prompt string) {
	// \r = carriage return, \x1b[K = clear to end of line
	fmt.Fprintf(e.out, "\r\x1b[K%s%s", prompt, string(e.buf))

	// Move cursor back to the correct position
	if tail := utf8.RuneCount(e.buf[e.pos:]); tail > 0 {
		fmt.Fprintf(e.out, "\x1b[%dD", tail)
	}
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	return utf8.DecodeRune(buf[i:pos])
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}
