package worker

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func collect(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		case <-timeout:
			t.Fatal("line channel not closed")
			return out
		}
	}
}

func TestTransportSplitsChunks(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewTransport(pr, nopWriteCloser{io.Discard}, nil, nil)
	lines := tr.Lines()

	go func() {
		for _, chunk := range []string{`{"seq`, "uence\":1}\n{\"a\"", ":2}\r\n\n", "partial"} {
			pw.Write([]byte(chunk))
		}
		pw.Close()
	}()

	assert.Equal(t, []string{`{"sequence":1}`, `{"a":2}`, ""}, collect(t, lines))
	select {
	case <-tr.Drained():
	case <-time.After(time.Second):
		t.Fatal("transport not drained")
	}
}

func TestTransportInvalidUTF8(t *testing.T) {
	tr := NewTransport(strings.NewReader("ok\xff\n"), nopWriteCloser{io.Discard}, nil, nil)
	assert.Equal(t, []string{"ok\uFFFD"}, collect(t, tr.Lines()))
}

func TestTransportStderr(t *testing.T) {
	var mu sync.Mutex
	var diag []string
	tr := NewTransport(strings.NewReader(""), nopWriteCloser{io.Discard},
		strings.NewReader("warning one\nwarning two\n"),
		func(line string) {
			mu.Lock()
			diag = append(diag, line)
			mu.Unlock()
		})

	assert.Empty(t, collect(t, tr.Lines()))
	<-tr.Drained()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"warning one", "warning two"}, diag)
}

func TestTransportSend(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	tr := NewTransport(strings.NewReader(""), nopWriteCloser{&lockedWriter{w: &buf, mu: &mu}}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, tr.Send([]byte(`{"sequence":1,"data":{}}`)))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 20)
	for _, l := range lines {
		assert.Equal(t, `{"sequence":1,"data":{}}`, l)
	}
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
