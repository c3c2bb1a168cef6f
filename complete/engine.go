package complete

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	azlet "github.com/Paranoid-AF/azlet"
	"github.com/Paranoid-AF/azlet/parse"
	"github.com/Paranoid-AF/azlet/resource"
	"github.com/Paranoid-AF/azlet/worker"
)

// DefaultMaxCandidates is used when neither the request nor the
// configuration specifies a limit.
const DefaultMaxCandidates = 50

// Resources supplies live values for resource arguments.
type Resources interface {
	Groups(ctx context.Context) ([]resource.Resource, error)
	WebApps(ctx context.Context) ([]resource.Resource, error)
}

// Engine answers client requests using the worker and live resources.
type Engine struct {
	svc           *Service
	resources     Resources
	maxCandidates int
	maxCommands   int
	log           *slog.Logger
	closers       []func()

	mu         sync.Mutex
	installErr error
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Resources is optional; without it resource arguments get only the
	// worker's values.
	Resources     Resources
	MaxCandidates int
	// MaxCommands caps the script lines sent for recommendations.
	MaxCommands int
	Logger      *slog.Logger
}

// NewEngine creates an engine over svc.
func NewEngine(svc *Service, opts EngineOptions) *Engine {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.MaxCommands <= 0 {
		opts.MaxCommands = parse.DefaultMaxCommands
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		svc:           svc,
		resources:     opts.Resources,
		maxCandidates: opts.MaxCandidates,
		maxCommands:   opts.MaxCommands,
		log:           opts.Logger.With("component", "engine"),
	}
}

// ReportInstallProblem records err to be returned once with the next
// response. It is meant as the Service's OnInstallProblem callback.
func (e *Engine) ReportInstallProblem(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.installErr = err
}

func (e *Engine) takeInstallError() *azlet.Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.installErr == nil {
		return nil
	}
	err := e.installErr
	e.installErr = nil
	msg := worker.Hint(err)
	if msg == "" {
		msg = err.Error()
	}
	return &azlet.Error{Code: "not_installed", Message: msg}
}

// Close stops the worker and watchers the engine owns.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// NewSession creates the recommendation state for a client session.
func (e *Engine) NewSession(id string) *Session {
	return NewSession(id, e.svc, e.maxCommands)
}

// Complete processes a completion request and returns a response.
func (e *Engine) Complete(ctx context.Context, req *azlet.Request) *azlet.Response {
	resp := &azlet.Response{Candidates: []azlet.Candidate{}}

	// Strip trailing newlines the client appends as line terminators.
	input := strings.TrimRight(req.Input, "\n")
	cursor := req.CursorPos
	if cursor > len(input) || cursor < 0 {
		cursor = len(input)
	}

	s := locate(input, cursor)
	q, ok := s.query()
	if !ok {
		return resp
	}
	if q.Subcommand != nil {
		e.log.Debug("completion query", "line", parse.Redact(input), "subcommand", *q.Subcommand, "argument", q.Argument)
	}

	// The worker round-trip and the resource lookup overlap.
	var items, extra []worker.Completion
	var g errgroup.Group
	g.Go(func() error {
		items = e.svc.Completions(ctx, q)
		return nil
	})
	if q.Argument != "" && q.Subcommand != nil {
		g.Go(func() error {
			var err error
			extra, err = e.resourceValues(ctx, *q.Subcommand, q.Argument)
			return err
		})
	}
	resErr := g.Wait()

	// Cancelled responses are dropped; leave the install error for the next one.
	if ctx.Err() != nil {
		return resp
	}
	resp.Error = e.takeInstallError()
	if resErr != nil && resp.Error == nil {
		resp.Error = resourceError(resErr)
	}
	items = mergeCompletions(items, extra)

	prefix := strings.ToLower(s.prefix())
	for _, item := range items {
		if !strings.HasPrefix(strings.ToLower(item.Name), prefix) {
			continue
		}
		completion, pos := s.line(item)
		resp.Candidates = append(resp.Candidates, azlet.Candidate{
			Completion:    completion,
			CursorPos:     pos,
			Name:          item.Name,
			Kind:          string(item.Kind),
			Detail:        item.Detail,
			Documentation: item.Documentation,
		})
	}
	sortCandidates(resp.Candidates, items)

	limit := req.MaxCandidates
	if limit <= 0 {
		limit = e.maxCandidates
	}
	if len(resp.Candidates) > limit {
		resp.Candidates = resp.Candidates[:limit]
	}
	return resp
}

// resourceValues lists live values for flags that name resource groups or
// web apps.
func (e *Engine) resourceValues(ctx context.Context, subcommand, argument string) ([]worker.Completion, error) {
	if e.resources == nil {
		return nil, nil
	}
	var list func(context.Context) ([]resource.Resource, error)
	var detail string
	switch {
	case argument == "-g" || argument == "--resource-group":
		list, detail = e.resources.Groups, "resource group"
	case (argument == "-n" || argument == "--name") && strings.HasPrefix(subcommand+" ", "webapp "):
		list, detail = e.resources.WebApps, "web app"
	default:
		return nil, nil
	}

	found, err := list(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		e.log.Debug("resource lookup failed", "argument", argument, "error", err)
		return nil, err
	}
	out := make([]worker.Completion, 0, len(found))
	for _, r := range found {
		d := detail
		if r.Location != "" {
			d += " (" + r.Location + ")"
		}
		out = append(out, worker.Completion{Name: r.Name, Kind: worker.KindArgumentValue, Detail: d})
	}
	return out, nil
}

func resourceError(err error) *azlet.Error {
	if msg := resource.UserMessage(err); msg != "" {
		return &azlet.Error{Code: "not_logged_in", Message: msg}
	}
	return &azlet.Error{Code: "resource_error", Message: err.Error()}
}

// mergeCompletions appends extra items whose names are not already present.
func mergeCompletions(items, extra []worker.Completion) []worker.Completion {
	if len(extra) == 0 {
		return items
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[parse.Unquote(it.Name)] = true
	}
	for _, it := range extra {
		if seen[it.Name] {
			continue
		}
		seen[it.Name] = true
		items = append(items, it)
	}
	return items
}

// sortCandidates orders candidates by the worker's sort text, falling back to
// the name, then by name.
func sortCandidates(cands []azlet.Candidate, items []worker.Completion) {
	sortText := make(map[string]string, len(items))
	for _, it := range items {
		if it.SortText != "" {
			sortText[it.Name] = it.SortText
		}
	}
	key := func(c azlet.Candidate) string {
		if k, ok := sortText[c.Name]; ok {
			return k
		}
		return c.Name
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ki, kj := key(cands[i]), key(cands[j])
		if ki != kj {
			return ki < kj
		}
		return cands[i].Name < cands[j].Name
	})
}

// Hover returns documentation for the token at the requested offset.
func (e *Engine) Hover(ctx context.Context, req *azlet.HoverRequest) *azlet.HoverResponse {
	resp := &azlet.HoverResponse{}
	parsed := parse.Line(strings.TrimRight(req.Input, "\n"))
	node := parse.FindNode(parsed, req.Offset)
	if node == nil || len(parsed.Subcommand) == 0 || parsed.Subcommand[0].Text != "az" {
		return resp
	}

	var cmd worker.HoverCommand
	switch node.Kind {
	case parse.KindSubcommand:
		i := indexOf(parsed.Subcommand, node)
		if i <= 0 {
			return resp
		}
		words := make([]string, 0, i)
		for _, tok := range parsed.Subcommand[1 : i+1] {
			words = append(words, tok.Text)
		}
		cmd.Subcommand = strings.Join(words, " ")
	case parse.KindArgumentName:
		cmd.Subcommand = parsed.SubcommandText(1)
		cmd.Argument = node.Text
	default:
		return resp
	}

	text := e.svc.Hover(ctx, cmd)
	resp.Error = e.takeInstallError()
	if text == nil || len(text.Paragraphs) == 0 {
		return resp
	}
	resp.Markdown = RenderMarkdown(text)
	resp.Start, resp.End = node.Offset, node.End()
	return resp
}

func indexOf(toks []*parse.Token, tok *parse.Token) int {
	for i, t := range toks {
		if t == tok {
			return i
		}
	}
	return -1
}

// RenderMarkdown joins hover paragraphs, fencing code paragraphs with their
// language.
func RenderMarkdown(text *worker.HoverText) string {
	parts := make([]string, 0, len(text.Paragraphs))
	for _, p := range text.Paragraphs {
		if p.Code != nil {
			parts = append(parts, "```"+p.Code.Language+"\n"+strings.TrimRight(p.Code.Value, "\n")+"\n```")
			continue
		}
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Status returns the current status line.
func (e *Engine) Status(ctx context.Context) *azlet.StatusResponse {
	st, ok := e.svc.Status(ctx)
	resp := &azlet.StatusResponse{Error: e.takeInstallError()}
	if ok {
		resp.Message = st.Message
	}
	return resp
}

// Recommend answers a recommendation request within a session.
func (e *Engine) Recommend(ctx context.Context, sess *Session, req *azlet.RecommendRequest) *azlet.RecommendResponse {
	resp := &azlet.RecommendResponse{Scenarios: []azlet.Recommendation{}}

	switch {
	case req.Executed != nil:
		sess.MarkExecuted(*req.Executed)
	case req.Select != nil:
		scenarios := sess.Recommend(ctx, req.Lines, req.Line, false)
		if i := *req.Select; i >= 0 && i < len(scenarios) {
			sess.Select(scenarios[i])
		}
	default:
		scenarios := sess.Recommend(ctx, req.Lines, req.Line, req.Force)
		for _, r := range scenarios {
			resp.Scenarios = append(resp.Scenarios, convertRecommendation(r))
		}
		executed := make(map[string]bool)
		for _, c := range parse.CommandList(req.Lines, e.maxCommands) {
			executed[c.Command] = true
		}
		sess.Reconcile(executed)
	}
	resp.Error = e.takeInstallError()

	if cur, ok := sess.Current(); ok {
		r := convertRecommendation(cur)
		resp.Current = &r
	}
	return resp
}

func convertRecommendation(r worker.Recommendation) azlet.Recommendation {
	out := azlet.Recommendation{
		Description: r.Description,
		Commands:    make([]azlet.RecommendedCommand, 0, len(r.NextCommandSet)),
	}
	for _, c := range r.NextCommandSet {
		args := c.Arguments
		if args == nil {
			args = []string{}
		}
		out.Commands = append(out.Commands, azlet.RecommendedCommand{
			Command:   c.Command,
			Arguments: args,
			Reason:    c.Reason,
			Example:   parse.FormatSample(c.Example),
			Executed:  c.IsExecuted != nil && *c.IsExecuted,
		})
	}
	return out
}
