package complete

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	azlet "github.com/Paranoid-AF/azlet"
	"github.com/Paranoid-AF/azlet/worker"
)

func boolp(b bool) *bool { return &b }

func commandNames(set []worker.CommandInfo) []string {
	out := make([]string, 0, len(set))
	for _, c := range set {
		out = append(out, c.Command)
	}
	return out
}

func scenario() worker.Recommendation {
	return worker.Recommendation{
		Description:  "Create a web app",
		ExecuteIndex: []int{2, 1},
		NextCommandSet: []worker.CommandInfo{
			{Command: "group create", IsExecuted: nil},
			{Command: "appservice plan create"},
			{Command: "webapp create"},
			{Command: "webapp delete", IsExecuted: boolp(false)},
			{Command: "group list", IsExecuted: boolp(true)},
		},
	}
}

func newTestSession(w *fakeWorker) *Session {
	return NewSession("s1", NewService(w, ServiceOptions{}), 0)
}

func TestSessionSelectOrdersSuggestedFirst(t *testing.T) {
	s := newTestSession(newFakeWorker())
	got := s.Select(scenario())

	assert.Equal(t, []string{"webapp create", "appservice plan create", "group create", "group list"}, commandNames(got.NextCommandSet))
	executed := make([]bool, 0, len(got.NextCommandSet))
	for _, c := range got.NextCommandSet {
		require.NotNil(t, c.IsExecuted)
		executed = append(executed, *c.IsExecuted)
	}
	assert.Equal(t, []bool{false, false, true, true}, executed)

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, got, cur)
}

func TestSessionSelectIgnoresBadIndexes(t *testing.T) {
	s := newTestSession(newFakeWorker())
	rec := worker.Recommendation{
		ExecuteIndex:   []int{-1, 5, 0, 0},
		NextCommandSet: []worker.CommandInfo{{Command: "vm create"}},
	}
	got := s.Select(rec)
	require.Len(t, got.NextCommandSet, 1)
	assert.False(t, *got.NextCommandSet[0].IsExecuted)
}

func TestSessionMarkExecuted(t *testing.T) {
	s := newTestSession(newFakeWorker())
	assert.False(t, s.MarkExecuted(0), "no current scenario")

	s.Select(scenario())
	require.True(t, s.MarkExecuted(0))
	assert.False(t, s.MarkExecuted(10))

	cur, _ := s.Current()
	assert.Equal(t, []string{"appservice plan create", "group create", "group list", "webapp create"}, commandNames(cur.NextCommandSet))
	assert.True(t, *cur.NextCommandSet[3].IsExecuted)
}

func TestSessionReconcile(t *testing.T) {
	s := newTestSession(newFakeWorker())
	s.Select(scenario())
	s.Reconcile(map[string]bool{"webapp create": true, "group create": true})

	cur, _ := s.Current()
	assert.Equal(t, []string{"appservice plan create", "group list", "webapp create", "group create"}, commandNames(cur.NextCommandSet))
	assert.False(t, *cur.NextCommandSet[0].IsExecuted)
	assert.False(t, *cur.NextCommandSet[1].IsExecuted)
	assert.True(t, *cur.NextCommandSet[2].IsExecuted)

	s.Reset()
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSessionRecommendReusesForSameLine(t *testing.T) {
	w := newFakeWorker()
	w.recs = []worker.Recommendation{scenario()}
	s := newTestSession(w)
	ctx := context.Background()
	lines := []string{"az group create -n rg -l westus", "echo done", "az webapp"}

	first := s.Recommend(ctx, lines, 2, false)
	require.Len(t, first, 1)
	assert.Equal(t, "Create a web app", first[0].Description)
	require.Len(t, w.commandLs, 1)
	assert.Equal(t,
		`["{\"command\":\"group create\",\"arguments\":[\"-n\",\"-l\"]}","{\"command\":\"webapp\",\"arguments\":[]}"]`,
		w.commandLs[0])

	// Callers may modify what they get back.
	first[0].Description = "changed"
	again := s.Recommend(ctx, lines, 2, false)
	assert.Equal(t, "Create a web app", again[0].Description)
	assert.Len(t, w.commandLs, 1)

	s.Recommend(ctx, lines, 1, false)
	assert.Len(t, w.commandLs, 2, "line changed")
	s.Recommend(ctx, lines, 1, true)
	assert.Len(t, w.commandLs, 3, "forced")
}

func TestSessionRecommendSkipsScriptsWithoutAz(t *testing.T) {
	w := newFakeWorker()
	w.recs = []worker.Recommendation{scenario()}
	s := newTestSession(w)

	got := s.Recommend(context.Background(), []string{"echo hi", "# az vm create"}, 0, false)
	assert.Nil(t, got)
	assert.Empty(t, w.commandLs)
}

func TestSessionRecommendFailureIsNotCached(t *testing.T) {
	w := newFakeWorker()
	w.err = errors.New("worker exited")
	s := newTestSession(w)
	lines := []string{"az vm create"}

	assert.Nil(t, s.Recommend(context.Background(), lines, 0, false))

	w.mu.Lock()
	w.err = nil
	w.recs = []worker.Recommendation{scenario()}
	w.mu.Unlock()
	assert.Len(t, s.Recommend(context.Background(), lines, 0, false), 1)
}

func TestEngineRecommendFlow(t *testing.T) {
	w := newFakeWorker()
	w.recs = []worker.Recommendation{scenario()}
	e := newTestEngine(w, nil)
	sess := e.NewSession("s1")
	ctx := context.Background()
	lines := []string{"az group create -n rg -l westus", ""}

	resp := e.Recommend(ctx, sess, &azlet.RecommendRequest{Lines: lines, Line: 1})
	require.Nil(t, resp.Error)
	require.Len(t, resp.Scenarios, 1)
	assert.Nil(t, resp.Current)

	sel := 0
	resp = e.Recommend(ctx, sess, &azlet.RecommendRequest{Lines: lines, Line: 1, Select: &sel})
	require.NotNil(t, resp.Current)
	assert.Equal(t, "webapp create", resp.Current.Commands[0].Command)
	assert.False(t, resp.Current.Commands[0].Executed)
	assert.Len(t, w.commandLs, 1, "selection reuses fetched scenarios")

	done := 0
	resp = e.Recommend(ctx, sess, &azlet.RecommendRequest{Executed: &done})
	require.NotNil(t, resp.Current)
	last := resp.Current.Commands[len(resp.Current.Commands)-1]
	assert.Equal(t, "webapp create", last.Command)
	assert.True(t, last.Executed)

	// A new fetch moves the commands already in the script to the end.
	resp = e.Recommend(ctx, sess, &azlet.RecommendRequest{Lines: lines, Line: 1, Force: true})
	require.NotNil(t, resp.Current)
	cmds := resp.Current.Commands
	assert.Equal(t, "group create", cmds[len(cmds)-1].Command)
	assert.True(t, cmds[len(cmds)-1].Executed)
	assert.False(t, cmds[0].Executed)
}
