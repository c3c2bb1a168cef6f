package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
)

// Conn is a line-oriented duplex channel to a worker.
type Conn interface {
	Send(data []byte) error
	Lines() <-chan string
}

// Caller issues one request and waits for its correlated response.
type Caller interface {
	Call(ctx context.Context, payload any) (json.RawMessage, error)
}

type result struct {
	data json.RawMessage
	err  error
}

// Mux correlates requests and responses sharing one Conn by sequence number.
// Responses may arrive in any order.
//
// The owner of the Conn calls Close when the worker goes away; Mux itself
// never fails pending requests when the line stream ends.
type Mux struct {
	conn Conn
	log  *slog.Logger

	mu      sync.Mutex
	seq     int64
	pending map[int64]chan result
	closed  error

	done chan struct{}
}

// NewMux starts routing lines from conn. A nil logger uses slog.Default.
func NewMux(conn Conn, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mux{
		conn:    conn,
		log:     logger,
		pending: make(map[int64]chan result),
		done:    make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Call sends payload under the next sequence number and waits for the
// matching response, ctx cancellation, or Close. Cancellation is local: the
// worker is not told and its eventual reply is dropped.
func (m *Mux) Call(ctx context.Context, payload any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	ch := make(chan result, 1)
	m.mu.Lock()
	if m.closed != nil {
		err := m.closed
		m.mu.Unlock()
		return nil, err
	}
	m.seq++
	seq := m.seq
	m.pending[seq] = ch
	m.mu.Unlock()

	frame, err := json.Marshal(Message{Sequence: seq, Data: data})
	if err != nil {
		m.remove(seq)
		return nil, errors.Wrap(err, "encode message")
	}
	if err := m.conn.Send(frame); err != nil {
		if !m.remove(seq) {
			// Close raced the write; its error explains the failure better.
			r := <-ch
			return r.data, r.err
		}
		return nil, err
	}

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		if m.remove(seq) {
			return nil, cancelled(ctx.Err())
		}
		r := <-ch
		return r.data, r.err
	}
}

// Close fails every pending request with err and rejects later calls with it.
// Only the first Close has an effect.
func (m *Mux) Close(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed != nil {
		return
	}
	m.closed = err
	for seq, ch := range m.pending {
		ch <- result{err: err}
		delete(m.pending, seq)
	}
}

// Pending returns the number of requests awaiting a response.
func (m *Mux) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Done is closed when the line stream has ended.
func (m *Mux) Done() <-chan struct{} {
	return m.done
}

func (m *Mux) remove(seq int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[seq]; !ok {
		return false
	}
	delete(m.pending, seq)
	return true
}

func (m *Mux) readLoop() {
	defer close(m.done)
	for line := range m.conn.Lines() {
		if line == "" {
			continue
		}
		m.dispatch(line)
	}
}

func (m *Mux) dispatch(line string) {
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		m.log.Warn("dropping worker line", "error", errors.Mark(err, ErrProtocolDecode), "line", truncate(line, 200))
		return
	}

	m.mu.Lock()
	ch, ok := m.pending[msg.Sequence]
	delete(m.pending, msg.Sequence)
	m.mu.Unlock()

	if !ok {
		m.log.Debug("dropping unmatched response", "sequence", msg.Sequence)
		return
	}
	ch <- result{data: msg.Data}
}

// Call issues payload through c and decodes the response into T.
func Call[T any](ctx context.Context, c Caller, payload any) (T, error) {
	var out T
	raw, err := c.Call(ctx, payload)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, errors.Mark(errors.Wrap(err, "decode worker response"), ErrProtocolDecode)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
