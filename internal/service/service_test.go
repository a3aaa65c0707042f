package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnrharness/internal/browsertest"
	"dnrharness/internal/config"
	"dnrharness/pkg/browser"
	"dnrharness/pkg/dnr"
)

func newService(t *testing.T) (*Service, *browsertest.Browser) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Sqlite.Dsn = "file::memory:"
	cfg.Harness.PollInterval = time.Millisecond
	cfg.Harness.ScenarioTimeout = 2 * time.Second
	b := browsertest.Standard(cfg.Fixtures)
	s := New(cfg, nil, WithAutomation(b))
	t.Cleanup(func() { _ = s.Close() })
	return s, b
}

func TestRunRecordsHistory(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	all := s.Scenarios()

	rep, err := s.Run(ctx, all[0].Name, all[6].Name)
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 2)

	sums, err := s.History(ctx, 5)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, rep.RunID, sums[0].RunID)
	assert.Equal(t, 2, sums[0].Total)
	assert.Equal(t, 0, sums[0].Failed)

	recs, err := s.RunDetail(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, all[0].Name, recs[0].Scenario)
	assert.Equal(t, all[6].Name, recs[1].Scenario)
}

func TestRunUnknownScenario(t *testing.T) {
	s, b := newService(t)
	_, err := s.Run(context.Background(), "no such scenario")
	require.True(t, errors.Is(err, ErrUnknownScenario))
	assert.Empty(t, b.Updates())
}

func TestSweepRemovesLeftoverRules(t *testing.T) {
	s, b := newService(t)
	ctx := context.Background()
	require.NoError(t, b.UpdateDynamicRules(ctx, browser.RuleUpdate{
		AddRules: []dnr.Rule{dnr.Block(7, 1, dnr.Condition{URLFilter: "||leftover.test/*"})},
	}))

	require.NoError(t, s.Sweep(ctx))
	rs, err := b.GetDynamicRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestHistoryWithoutBrowser(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Sqlite.Dsn = "file::memory:"
	s := New(cfg, nil)
	defer s.Close()

	sums, err := s.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, sums)

	n, err := s.Prune(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := newService(t)
	_, err := s.History(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
