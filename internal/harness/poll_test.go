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
)

func TestObserveUntilClosesTabOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)
	h := New(b, Options{PollInterval: time.Millisecond})

	tab, err := h.LoadPage(ctx, "poll", f.RequestBlocking)
	require.NoError(t, err)

	got, err := h.ObserveUntil(ctx, tab, StatusSettled("xmlhttprequest"))
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, FindRecord(got, "xmlhttprequest").Get("status").String())
	assert.Empty(t, b.OpenTabs())
	assert.Empty(t, h.OpenTabs())
}

func TestObserveUntilGivesUp(t *testing.T) {
	ctx := context.Background()
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)
	h := New(b, Options{PollInterval: time.Millisecond, MaxAttempts: 2})

	tab, err := h.LoadPage(ctx, "poll", f.RequestBlocking)
	require.NoError(t, err)

	got, err := h.ObserveUntil(ctx, tab, StatusSettled("xmlhttprequest"))
	require.ErrorIs(t, err, ErrGaveUp)

	var oe *ObserveError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, 2, oe.Attempts)
	assert.Equal(t, StatusNotLoaded, FindRecord(oe.Last, "xmlhttprequest").Get("status").String())
	assert.Equal(t, oe.Last.Raw, got.Raw)
	assert.Len(t, b.OpenTabs(), 1, "tab left for sweep")
}

func TestObserveUntilStopsAtDeadline(t *testing.T) {
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)
	h := New(b, Options{PollInterval: 5 * time.Millisecond})

	tab, err := h.LoadPage(context.Background(), "poll", f.Root)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = h.ObserveUntil(ctx, tab, NotNull())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var oe *ObserveError
	require.True(t, errors.As(err, &oe))
	assert.GreaterOrEqual(t, oe.Attempts, 1)
}

func TestObserveUntilPropagatesReadErrors(t *testing.T) {
	ctx := context.Background()
	f := config.RemoteFixtures()
	b := browsertest.Standard(f)
	h := New(b, Options{PollInterval: time.Millisecond})

	tab, err := h.LoadPage(ctx, "poll", f.RequestBlocking)
	require.NoError(t, err)

	boom := errors.New("frame detached")
	b.Fail("ExecuteScript", boom)
	_, err = h.ObserveUntil(ctx, tab, StatusSettled("xmlhttprequest"))
	require.ErrorIs(t, err, boom)
}
