package worker

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Transport frames newline-delimited messages over a process's standard
// streams.
type Transport struct {
	w        io.WriteCloser
	onStderr func(line string)

	writeMu sync.Mutex
	lines   chan string

	startOnce sync.Once
	stdout    io.Reader
	stderr    io.Reader
	drained   chan struct{}
}

// NewTransport wraps stdout/stdin/stderr of a worker. stderr may be nil.
// onStderr receives each diagnostic line; nil logs them at debug level.
func NewTransport(stdout io.Reader, stdin io.WriteCloser, stderr io.Reader, onStderr func(string)) *Transport {
	if onStderr == nil {
		onStderr = func(line string) { slog.Debug("worker stderr", "line", line) }
	}
	return &Transport{
		w:        stdin,
		onStderr: onStderr,
		lines:    make(chan string, 16),
		stdout:   stdout,
		stderr:   stderr,
		drained:  make(chan struct{}),
	}
}

// Send writes data followed by a newline. Concurrent sends never interleave.
func (t *Transport) Send(data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(buf); err != nil {
		return errors.Wrap(err, "write to worker")
	}
	return nil
}

// Lines returns the complete lines read from stdout. Reading starts on the
// first call; the channel is closed when stdout is exhausted.
func (t *Transport) Lines() <-chan string {
	t.startOnce.Do(t.start)
	return t.lines
}

// Drained is closed once stdout and stderr have both reached EOF.
func (t *Transport) Drained() <-chan struct{} {
	t.startOnce.Do(t.start)
	return t.drained
}

// Close closes the worker's stdin, which asks it to exit.
func (t *Transport) Close() error {
	return t.w.Close()
}

func (t *Transport) start() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(t.lines)
		readLines(t.stdout, func(line string) { t.lines <- line })
	}()
	if t.stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readLines(t.stderr, t.onStderr)
		}()
	}
	go func() {
		wg.Wait()
		close(t.drained)
	}()
}

// readLines delivers every newline-terminated line of r. A trailing
// unterminated fragment at EOF is discarded.
func readLines(r io.Reader, emit func(string)) {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("worker stream closed", "error", err)
			}
			return
		}
		line = strings.TrimSuffix(line[:len(line)-1], "\r")
		emit(strings.ToValidUTF8(line, "\uFFFD"))
	}
}
