package harness

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
)

// scriptedEvents 只发出给定导航事件的自动化实现，其余方法未实现
type scriptedEvents struct {
	browser.Automation
	tab    browser.Tab
	events []browser.NavigationEvent
	ch     chan browser.NavigationEvent
}

func (s *scriptedEvents) Subscribe(ctx context.Context) (<-chan browser.NavigationEvent, func(), error) {
	s.ch = make(chan browser.NavigationEvent, len(s.events))
	return s.ch, func() {}, nil
}

func (s *scriptedEvents) CreateTab(ctx context.Context, args browser.CreateTabArgs) (browser.Tab, error) {
	for _, ev := range s.events {
		s.ch <- ev
	}
	return s.tab, nil
}

func TestLoadPageWaitsForTopLevelFrame(t *testing.T) {
	ctx := context.Background()
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)

	tab, err := LoadPage(ctx, b, f.Root)
	require.NoError(t, err)
	assert.NotZero(t, tab.ID)
	assert.False(t, tab.Active)
	assert.Len(t, b.OpenTabs(), 1)
}

func TestLoadPageIgnoresSubframeAndForeignEvents(t *testing.T) {
	a := &scriptedEvents{
		tab: browser.Tab{ID: 7, URL: "https://x.test/"},
		events: []browser.NavigationEvent{
			{Type: browser.EventDOMContentLoaded, TabID: 7, FrameID: 3, URL: "https://x.test/frame"},
			{Type: browser.EventDOMContentLoaded, TabID: 8, FrameID: 0, URL: "https://other.test/"},
			{Type: browser.EventCompleted, TabID: 7, FrameID: 0, URL: "https://x.test/"},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tab, err := LoadPage(ctx, a, "https://x.test/")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, browser.TabID(7), tab.ID)
}

func TestLoadPageTimesOutWithTabHandle(t *testing.T) {
	b := browsertest.New(browsertest.Page{URL: "https://stuck.test/", NeverReady: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tab, err := LoadPage(ctx, b, "https://stuck.test/")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotZero(t, tab.ID, "handle returned for cleanup")
}

func TestLoadPageCreateFailure(t *testing.T) {
	b := browsertest.New()
	b.Fail("CreateTab", errors.New("no window"))

	tab, err := LoadPage(context.Background(), b, "https://a.test/")
	require.Error(t, err)
	assert.Zero(t, tab.ID)
}

func TestHarnessLoadPageTracksTab(t *testing.T) {
	ctx := context.Background()
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)
	h := New(b, Options{})

	tab, err := h.LoadPage(ctx, "tracked", f.Root)
	require.NoError(t, err)
	require.Len(t, h.OpenTabs(), 1)
	assert.Equal(t, "tracked", h.OpenTabs()[0].Scenario)

	require.NoError(t, h.CloseTab(ctx, tab.ID))
	assert.Empty(t, h.OpenTabs())
	assert.Empty(t, b.OpenTabs())
}

func TestSweepClosesLeftoverTabs(t *testing.T) {
	ctx := context.Background()
	b := browsertest.New(browsertest.Page{URL: "https://stuck.test/", NeverReady: true})
	h := New(b, Options{})

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err := h.LoadPage(tctx, "stuck", "https://stuck.test/")
	cancel()
	require.Error(t, err)
	require.Len(t, h.OpenTabs(), 1)

	require.NoError(t, h.Sweep(ctx))
	assert.Empty(t, h.OpenTabs())
	assert.Empty(t, b.OpenTabs())
}
