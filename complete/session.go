package complete

import (
	"context"
	"sync"

	"github.com/Paranoid-AF/azlet/parse"
	"github.com/Paranoid-AF/azlet/worker"
)

// Recommender fetches scenarios for an encoded command list.
type Recommender interface {
	Recommend(ctx context.Context, commandList string) []worker.Recommendation
}

// Session is the recommendation state of one client session: the scenarios
// last fetched, the line they were fetched for and the scenario the user is
// following.
type Session struct {
	ID string

	svc         Recommender
	maxCommands int

	mu        sync.Mutex
	scenarios []worker.Recommendation
	fetched   bool
	line      int
	current   *worker.Recommendation
}

// NewSession creates an empty session.
func NewSession(id string, svc Recommender, maxCommands int) *Session {
	if maxCommands <= 0 {
		maxCommands = parse.DefaultMaxCommands
	}
	return &Session{ID: id, svc: svc, maxCommands: maxCommands, line: -1}
}

// Recommend returns scenarios for the script lines. Scenarios fetched for
// the same cursor line are reused unless force is set.
func (s *Session) Recommend(ctx context.Context, lines []string, line int, force bool) []worker.Recommendation {
	s.mu.Lock()
	if s.fetched && s.line == line && !force {
		out := cloneRecommendations(s.scenarios)
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	list, err := parse.EncodeCommandList(parse.CommandList(lines, s.maxCommands))
	if err != nil || list == "" {
		return nil
	}
	recs := s.svc.Recommend(ctx, list)
	if recs == nil {
		return nil
	}

	s.mu.Lock()
	s.scenarios = recs
	s.line = line
	s.fetched = true
	s.mu.Unlock()
	return cloneRecommendations(recs)
}

// Select makes rec the current scenario. Its suggested commands come first,
// not yet executed, followed by the commands the worker considered already
// executed.
func (s *Session) Select(rec worker.Recommendation) worker.Recommendation {
	rec = cloneRecommendation(rec)
	set := make([]worker.CommandInfo, 0, len(rec.NextCommandSet))
	suggested := make(map[int]bool, len(rec.ExecuteIndex))
	for _, i := range rec.ExecuteIndex {
		if i < 0 || i >= len(rec.NextCommandSet) || suggested[i] {
			continue
		}
		suggested[i] = true
		cmd := rec.NextCommandSet[i]
		cmd.IsExecuted = boolPtr(false)
		set = append(set, cmd)
	}
	for i, cmd := range rec.NextCommandSet {
		if suggested[i] {
			continue
		}
		if cmd.IsExecuted == nil || *cmd.IsExecuted {
			cmd.IsExecuted = boolPtr(true)
			set = append(set, cmd)
		}
	}
	rec.NextCommandSet = set

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &rec
	return cloneRecommendation(rec)
}

// MarkExecuted moves command i of the current scenario to the end and marks
// it executed. It reports whether i was valid.
func (s *Session) MarkExecuted(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || i < 0 || i >= len(s.current.NextCommandSet) {
		return false
	}
	set := s.current.NextCommandSet
	cmd := set[i]
	cmd.IsExecuted = boolPtr(true)
	set = append(set[:i:i], set[i+1:]...)
	s.current.NextCommandSet = append(set, cmd)
	return true
}

// Reconcile marks current commands executed when they appear in executed
// and puts the unused ones first.
func (s *Session) Reconcile(executed map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	var unused, used []worker.CommandInfo
	for _, cmd := range s.current.NextCommandSet {
		if executed[cmd.Command] {
			cmd.IsExecuted = boolPtr(true)
			used = append(used, cmd)
		} else {
			cmd.IsExecuted = boolPtr(false)
			unused = append(unused, cmd)
		}
	}
	s.current.NextCommandSet = append(unused, used...)
}

// Current returns the scenario being followed.
func (s *Session) Current() (worker.Recommendation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return worker.Recommendation{}, false
	}
	return cloneRecommendation(*s.current), true
}

// Reset forgets the current scenario.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

func boolPtr(b bool) *bool { return &b }

func cloneRecommendation(r worker.Recommendation) worker.Recommendation {
	r.ExecuteIndex = append([]int(nil), r.ExecuteIndex...)
	set := make([]worker.CommandInfo, len(r.NextCommandSet))
	for i, c := range r.NextCommandSet {
		c.Arguments = append([]string(nil), c.Arguments...)
		if c.IsExecuted != nil {
			c.IsExecuted = boolPtr(*c.IsExecuted)
		}
		set[i] = c
	}
	r.NextCommandSet = set
	return r
}

func cloneRecommendations(rs []worker.Recommendation) []worker.Recommendation {
	if rs == nil {
		return nil
	}
	out := make([]worker.Recommendation, len(rs))
	for i, r := range rs {
		out[i] = cloneRecommendation(r)
	}
	return out
}
