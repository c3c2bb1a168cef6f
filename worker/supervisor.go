package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by a Supervisor after Close.
var ErrClosed = errors.New("supervisor closed")

// Options configures a Supervisor.
type Options struct {
	// Tool is the CLI executable probed before spawning. Default "az".
	Tool string
	// MinVersion is the oldest supported Tool version. Default "2.0.5".
	MinVersion string
	// Python is the interpreter used when none can be derived from Tool.
	Python string
	// Module is the Python module run as the worker. Default "azservice".
	Module string
	// ServiceDir holds Module; it is the worker's working directory and is
	// added to PYTHONPATH.
	ServiceDir string
	// RetryDelay keeps a failed startup memoized before probing again.
	RetryDelay time.Duration
	// ProbeTimeout bounds the version probe. Default 30s.
	ProbeTimeout time.Duration
	Logger       *slog.Logger

	// Probe and Command replace tool probing and worker command construction.
	Probe   func(ctx context.Context) (*ToolInfo, error)
	Command func(tool *ToolInfo) (*exec.Cmd, error)
}

func (o *Options) setDefaults() {
	if o.Tool == "" {
		o.Tool = "az"
	}
	if o.MinVersion == "" {
		o.MinVersion = "2.0.5"
	}
	if o.Python == "" {
		o.Python = "python3"
	}
	if o.Module == "" {
		o.Module = "azservice"
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// startup is one memoized probe-and-spawn attempt.
type startup struct {
	done     chan struct{}
	worker   *Worker
	err      error
	finished time.Time
}

// Supervisor lazily starts the worker and replaces it after it exits.
// Concurrent callers share a single startup.
type Supervisor struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	current *startup
	closed  bool
}

// NewSupervisor creates a Supervisor. Nothing is started until first use.
func NewSupervisor(opts Options) *Supervisor {
	opts.setDefaults()
	s := &Supervisor{
		opts: opts,
		log:  opts.Logger.With("component", "supervisor"),
		now:  time.Now,
	}
	if s.opts.Probe == nil {
		s.opts.Probe = func(ctx context.Context) (*ToolInfo, error) {
			return ProbeTool(ctx, s.opts.Tool, s.opts.MinVersion)
		}
	}
	if s.opts.Command == nil {
		s.opts.Command = s.command
	}
	return s
}

// Worker returns the running worker, starting one if needed. A failed startup
// is returned to every caller until RetryDelay has passed.
func (s *Supervisor) Worker(ctx context.Context) (*Worker, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	st := s.current
	if st == nil || s.retryable(st) {
		st = &startup{done: make(chan struct{})}
		s.current = st
		go s.start(st)
	}
	s.mu.Unlock()

	select {
	case <-st.done:
		return st.worker, st.err
	case <-ctx.Done():
		return nil, cancelled(ctx.Err())
	}
}

// Call implements Caller over the current worker.
func (s *Supervisor) Call(ctx context.Context, payload any) (json.RawMessage, error) {
	w, err := s.Worker(ctx)
	if err != nil {
		return nil, err
	}
	return w.Call(ctx, payload)
}

// Close stops the current worker and rejects further calls.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	st := s.current
	s.current = nil
	s.mu.Unlock()

	if st == nil {
		return
	}
	go func() {
		<-st.done
		if st.worker != nil {
			st.worker.Close()
		}
	}()
}

// retryable reports whether st failed long enough ago to try again.
// Must be called with s.mu held.
func (s *Supervisor) retryable(st *startup) bool {
	select {
	case <-st.done:
		return st.err != nil && s.now().Sub(st.finished) >= s.opts.RetryDelay
	default:
		return false
	}
}

func (s *Supervisor) start(st *startup) {
	defer close(st.done)
	fail := func(err error) {
		st.err = err
		st.finished = s.now()
		s.log.Warn("worker startup failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProbeTimeout)
	defer cancel()
	tool, err := s.opts.Probe(ctx)
	if err != nil {
		fail(err)
		return
	}
	s.log.Debug("probed tool", "path", tool.Path, "version", tool.Version)

	cmd, err := s.opts.Command(tool)
	if err != nil {
		fail(spawnFailed(err))
		return
	}
	w, err := startWorker(cmd, tool, s.opts.Logger, func() { s.forget(st) })
	if err != nil {
		fail(err)
		return
	}
	st.worker = w
	st.finished = s.now()
}

// forget clears the memoized startup so the next call spawns again.
func (s *Supervisor) forget(st *startup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == st {
		s.current = nil
	}
}

func (s *Supervisor) command(tool *ToolInfo) (*exec.Cmd, error) {
	python := s.opts.Python
	var sitePackages string
	if env, ok := DeriveEnv(tool.Path); ok {
		python = env.Python
		sitePackages = env.SitePackages
	} else {
		s.log.Debug("no bundled interpreter found", "tool", tool.Path, "python", python)
	}

	cmd := exec.Command(python, "-m", s.opts.Module)
	cmd.Dir = s.opts.ServiceDir
	cmd.Env = append(os.Environ(),
		"PYTHONPATH="+prependPath(os.Getenv("PYTHONPATH"), sitePackages, s.opts.ServiceDir),
		"PYTHONIOENCODING=utf-8",
	)
	return cmd, nil
}
