package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"
)

// Worker is a running worker process and the multiplexer over its stdio.
type Worker struct {
	// ID distinguishes worker instances in logs.
	ID   string
	Tool *ToolInfo

	cmd       *exec.Cmd
	transport *Transport
	mux       *Mux
	log       *slog.Logger

	onExit func()
	exited chan struct{}
	term   *TerminatedError
}

// startWorker starts cmd and begins routing its stdout. onExit runs after the
// process has exited and before pending requests are failed.
func startWorker(cmd *exec.Cmd, tool *ToolInfo, logger *slog.Logger, onExit func()) (*Worker, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnFailed(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, spawnFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, spawnFailed(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, spawnFailed(err)
	}

	id := uuid.NewString()
	log := logger.With("worker", id, "pid", cmd.Process.Pid)
	t := NewTransport(stdout, stdin, stderr, func(line string) {
		log.Debug("worker stderr", "line", line)
	})
	w := &Worker{
		ID:        id,
		Tool:      tool,
		cmd:       cmd,
		transport: t,
		mux:       NewMux(t, log),
		log:       log,
		onExit:    onExit,
		exited:    make(chan struct{}),
	}
	log.Info("worker started", "command", cmd.Path)
	go w.wait()
	return w, nil
}

// Call sends payload to this worker and waits for the response.
func (w *Worker) Call(ctx context.Context, payload any) (json.RawMessage, error) {
	return w.mux.Call(ctx, payload)
}

// Exited is closed after the process has exited and pending requests failed.
func (w *Worker) Exited() <-chan struct{} {
	return w.exited
}

// ExitError returns how the process ended, or nil while it is running.
func (w *Worker) ExitError() *TerminatedError {
	select {
	case <-w.exited:
		return w.term
	default:
		return nil
	}
}

// Close closes stdin and kills the process.
func (w *Worker) Close() {
	w.transport.Close()
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
}

func (w *Worker) wait() {
	// Wait closes the pipes, so the readers must finish first.
	<-w.transport.Drained()
	if err := w.cmd.Wait(); err != nil {
		w.log.Debug("worker wait", "error", err)
	}
	w.term = exitStatus(w.cmd.ProcessState)

	if w.term.Code == 0 && w.term.Signal == "" {
		w.log.Info("worker exited")
	} else {
		w.log.Warn("worker exited", "code", w.term.Code, "signal", w.term.Signal)
	}
	if w.onExit != nil {
		w.onExit()
	}
	w.mux.Close(w.term)
	close(w.exited)
}

func exitStatus(state *os.ProcessState) *TerminatedError {
	if state == nil {
		return &TerminatedError{Code: -1}
	}
	term := &TerminatedError{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		term.Signal = ws.Signal().String()
	}
	return term
}
