// Package complete turns command lines into worker queries and worker answers
// into completions, hover text, status and recommendations.
package complete

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Paranoid-AF/azlet/worker"
)

// Service issues typed queries to the worker. Failures other than
// cancellation are logged and degrade to empty results; callers never see
// errors from it.
type Service struct {
	worker worker.Caller
	log    *slog.Logger

	installOnce sync.Once
	onInstall   func(error)

	mu         sync.Mutex
	lastStatus *worker.Status
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// OnInstallProblem is called once, for the first failure that indicates
	// the CLI is missing or too old.
	OnInstallProblem func(err error)
	Logger           *slog.Logger
}

// NewService creates a Service over a worker caller, usually a
// *worker.Supervisor.
func NewService(c worker.Caller, opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		worker:    c,
		log:       opts.Logger.With("component", "service"),
		onInstall: opts.OnInstallProblem,
	}
}

// Completions returns the worker's completion list for q.
func (s *Service) Completions(ctx context.Context, q worker.CompletionQuery) []worker.Completion {
	items, err := worker.Call[[]worker.Completion](ctx, s.worker, q)
	if err != nil {
		s.fail("completion", err)
		return nil
	}
	return items
}

// Hover returns documentation for a subcommand or one of its flags, or nil.
func (s *Service) Hover(ctx context.Context, cmd worker.HoverCommand) *worker.HoverText {
	text, err := worker.Call[*worker.HoverText](ctx, s.worker, worker.HoverQuery{
		Request: worker.RequestHover,
		Command: cmd,
	})
	if err != nil {
		s.fail("hover", err)
		return nil
	}
	return text
}

// Status returns the worker's status line. On failure it returns the last
// status it saw; ok is false when there has never been one.
func (s *Service) Status(ctx context.Context) (worker.Status, bool) {
	st, err := worker.Call[worker.Status](ctx, s.worker, worker.StatusQuery{Request: worker.RequestStatus})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail("status", err)
		if s.lastStatus == nil {
			return worker.Status{}, false
		}
		return *s.lastStatus, true
	}
	s.lastStatus = &st
	return st, true
}

// Recommend returns scenarios for an encoded command list.
func (s *Service) Recommend(ctx context.Context, commandList string) []worker.Recommendation {
	recs, err := worker.Call[[]worker.Recommendation](ctx, s.worker, worker.RecommendationQuery{
		Request:     worker.RequestRecommendation,
		CommandList: commandList,
	})
	if err != nil {
		s.fail("recommendation", err)
		return nil
	}
	return recs
}

func (s *Service) fail(op string, err error) {
	switch {
	case worker.IsCancelled(err):
		s.log.Debug("request cancelled", "op", op)
	case worker.IsInstallProblem(err):
		first := false
		s.installOnce.Do(func() {
			first = true
			if s.onInstall != nil {
				s.onInstall(err)
			}
		})
		if first {
			s.log.Error("azure cli unavailable", "op", op, "error", err, "hint", worker.Hint(err))
		} else {
			s.log.Debug("azure cli unavailable", "op", op, "error", err)
		}
	default:
		s.log.Warn("worker request failed", "op", op, "error", err)
	}
}
