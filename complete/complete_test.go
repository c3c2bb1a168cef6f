package complete

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/Paranoid-AF/azlet/resource"
	"github.com/Paranoid-AF/azlet/worker"
)

// fakeWorker answers queries from canned responses and records them.
type fakeWorker struct {
	mu          sync.Mutex
	completions map[string][]worker.Completion // keyed by subcommand + "|" + argument
	hover       map[worker.HoverCommand]*worker.HoverText
	status      *worker.Status
	recs        []worker.Recommendation
	err         error

	queries   []worker.CompletionQuery
	hovers    []worker.HoverCommand
	commandLs []string
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		completions: map[string][]worker.Completion{},
		hover:       map[worker.HoverCommand]*worker.HoverText{},
	}
}

func queryKey(q worker.CompletionQuery) string {
	sub := "<root>"
	if q.Subcommand != nil {
		sub = *q.Subcommand
	}
	return sub + "|" + q.Argument
}

func (f *fakeWorker) Call(ctx context.Context, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out any
	switch p := payload.(type) {
	case worker.CompletionQuery:
		f.queries = append(f.queries, p)
		out = f.completions[queryKey(p)]
	case worker.HoverQuery:
		f.hovers = append(f.hovers, p.Command)
		out = f.hover[p.Command]
	case worker.StatusQuery:
		out = f.status
	case worker.RecommendationQuery:
		f.commandLs = append(f.commandLs, p.CommandList)
		out = f.recs
	default:
		return nil, errors.Newf("unexpected payload %T", payload)
	}
	return json.Marshal(out)
}

func (f *fakeWorker) lastQuery(t *testing.T) worker.CompletionQuery {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.queries)
	return f.queries[len(f.queries)-1]
}

type fakeResources struct {
	groups  []resource.Resource
	webApps []resource.Resource
	err     error
}

func (f *fakeResources) Groups(context.Context) ([]resource.Resource, error) {
	return f.groups, f.err
}

func (f *fakeResources) WebApps(context.Context) ([]resource.Resource, error) {
	return f.webApps, f.err
}

func strPtr(s string) *string { return &s }

func newTestEngine(w *fakeWorker, res Resources) *Engine {
	var e *Engine
	svc := NewService(w, ServiceOptions{OnInstallProblem: func(err error) { e.ReportInstallProblem(err) }})
	e = NewEngine(svc, EngineOptions{Resources: res})
	return e
}
