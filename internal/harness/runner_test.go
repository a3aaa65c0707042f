package harness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"dnrharness/internal/browsertest"
	"dnrharness/internal/config"
	"dnrharness/internal/ctxkeys"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
	"dnrharness/pkg/probes"
)

type memRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	runIDs   []string
}

func (r *memRecorder) Record(ctx context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	r.runIDs = append(r.runIDs, ctxkeys.RunID(ctx))
	return nil
}

func newRunner(t *testing.T, opts RunnerOptions) (*Runner, *browsertest.Browser, config.Fixtures) {
	t.Helper()
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)
	h := New(b, Options{PollInterval: time.Millisecond})
	if opts.ScenarioTimeout == 0 {
		opts.ScenarioTimeout = time.Second
	}
	return NewRunner(h, opts), b, f
}

func blockScenario(f config.Fixtures) Scenario {
	return Scenario{
		Name:    "block xhr",
		Rules:   []dnr.Rule{dnr.Block(1, 1, dnr.Condition{URLFilter: "||bad.third-party.site/*"})},
		URL:     f.RequestBlocking,
		Observe: PollResults(StatusSettled("xmlhttprequest")),
		Expect:  RecordStatus{ID: "xmlhttprequest", Status: StatusLoaded, Not: true},
	}
}

func TestRunPassingScenarioLeavesNothingBehind(t *testing.T) {
	rec := &memRecorder{}
	r, b, f := newRunner(t, RunnerOptions{Recorder: rec})

	o := r.Run(context.Background(), blockScenario(f))
	require.NoError(t, o.Err)
	assert.True(t, o.Passed)
	assert.Contains(t, o.Observed, `"failed"`)
	assert.NotEmpty(t, o.RunID)

	rs, err := b.GetDynamicRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rs)
	assert.Empty(t, b.OpenTabs())

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, o.RunID, rec.runIDs[0])
}

func TestRunAssertionFailure(t *testing.T) {
	r, b, f := newRunner(t, RunnerOptions{})
	s := blockScenario(f)
	s.Expect = RecordStatus{ID: "xmlhttprequest", Status: StatusLoaded}

	o := r.Run(context.Background(), s)
	assert.False(t, o.Passed)
	var ae *AssertionError
	require.True(t, errors.As(o.Err, &ae))
	assert.Equal(t, "block xhr", ae.Scenario)

	rs, _ := b.GetDynamicRules(context.Background())
	assert.Empty(t, rs, "rules removed after a failed assertion")
}

func TestRunSetupFailureStillCleansUp(t *testing.T) {
	r, b, f := newRunner(t, RunnerOptions{})
	b.Fail("CreateTab", errors.New("browser gone"))

	o := r.Run(context.Background(), blockScenario(f))
	require.Error(t, o.Err)
	assert.Contains(t, o.Err.Error(), "browser gone")
	rs, _ := b.GetDynamicRules(context.Background())
	assert.Empty(t, rs)
}

func TestRunTimeoutReturnsObserveError(t *testing.T) {
	r, b, f := newRunner(t, RunnerOptions{ScenarioTimeout: 30 * time.Millisecond})
	s := blockScenario(f)
	s.Observe = PollResults(func(gjson.Result) bool { return false })

	o := r.Run(context.Background(), s)
	var oe *ObserveError
	require.True(t, errors.As(o.Err, &oe))
	require.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Empty(t, b.OpenTabs(), "sweep reclaims the tab")
}

func TestRunCombinedUpdateWithRuleset(t *testing.T) {
	r, b, f := newRunner(t, RunnerOptions{})
	s := Scenario{
		Name:     "allowAll with remove",
		Rulesets: []dnr.RulesetID{browsertest.BlockingRuleset},
		Update: &browser.RuleUpdate{
			RemoveRuleIDs: []int{2},
			AddRules: []dnr.Rule{dnr.AllowAllRequests(2, 2, dnr.Condition{
				URLFilter:     "||privacy-test-pages.glitch.me/",
				ResourceTypes: []dnr.ResourceType{dnr.MainFrame},
			})},
		},
		URL:     f.RequestBlocking,
		Observe: PollResults(StatusSettled("xmlhttprequest")),
		Expect:  RecordStatus{ID: "xmlhttprequest", Status: StatusLoaded},
	}

	o := r.Run(context.Background(), s)
	require.NoError(t, o.Err)
	enabled, _ := b.GetEnabledRulesets(context.Background())
	assert.Empty(t, enabled)

	ups := b.Updates()
	require.Len(t, ups, 2)
	assert.Equal(t, []int{2}, ups[0].RemoveRuleIDs)
	assert.Equal(t, []int{2}, dnr.IDs(ups[0].AddRules))
	assert.Equal(t, []int{2}, ups[1].RemoveRuleIDs)
	assert.Empty(t, ups[1].AddRules)
}

func TestRunInvalidScenario(t *testing.T) {
	r, b, _ := newRunner(t, RunnerOptions{})
	o := r.Run(context.Background(), Scenario{Name: "no url", Observe: TabURL(), Expect: IsNullValue{}})
	require.Error(t, o.Err)
	assert.Empty(t, b.Updates())
}

func TestRunAllParallelKeepsOrder(t *testing.T) {
	rec := &memRecorder{}
	r, _, f := newRunner(t, RunnerOptions{Parallel: 4, Recorder: rec})

	scenarios := []Scenario{
		blockScenario(f),
		{Name: "location", URL: f.Root, Observe: Probe(browser.WorldIsolated, probes.Location), Expect: Equals{Value: f.Root}},
		{Name: "undeclared", URL: f.Undeclared, Observe: Probe(browser.WorldMain, probes.SurrogateGlobal), Expect: IsNullValue{}},
		{Name: "api", Observe: ExtensionEval(probes.TypeOf("tabs")), Expect: Equals{Value: "object"}},
	}
	rep, err := r.RunAll(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, len(scenarios))
	for i, o := range rep.Outcomes {
		assert.Equal(t, scenarios[i].Name, o.Name)
		assert.True(t, o.Passed, o.Name)
		assert.Equal(t, rep.RunID, o.RunID)
	}
	assert.True(t, rep.Passed())
	assert.Len(t, rec.outcomes, len(scenarios))
}

func TestRunAllReportsFailures(t *testing.T) {
	r, _, f := newRunner(t, RunnerOptions{})
	bad := blockScenario(f)
	bad.Name = "wrong expectation"
	bad.Expect = Equals{Value: "nope"}

	rep, err := r.RunAll(context.Background(), []Scenario{blockScenario(f), bad})
	require.Error(t, err)
	assert.Equal(t, 1, rep.Failed())
	assert.True(t, rep.Outcomes[0].Passed)
}
