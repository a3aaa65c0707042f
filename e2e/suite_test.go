//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnrharness/internal/cdp"
	"dnrharness/internal/config"
	"dnrharness/internal/fixture"
	"dnrharness/internal/logger"
	"dnrharness/internal/service"
	"dnrharness/pkg/browser"
)

func extensionDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("testdata", "extension"))
	require.NoError(t, err)
	return dir
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.NewConfig()
	c.Browser.ExtensionDir = extensionDir(t)
	c.Browser.Bin = os.Getenv("DNRHARNESS_CHROME")
	c.FixtureServer.Enabled = os.Getenv("DNRHARNESS_REMOTE") == ""
	c.Sqlite.Dsn = "file::memory:"
	c.Harness.ScenarioTimeout = 20 * time.Second
	require.NoError(t, c.Validate())
	return c
}

func TestAllScenarios(t *testing.T) {
	c := testConfig(t)
	svc := service.New(c, logger.NewWriter(testWriter{t}, "info"))
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rep, err := svc.Run(ctx)
	for _, o := range rep.Outcomes {
		assert.True(t, o.Passed, "%s: %v (observed %s)", o.Name, o.Err, o.Observed)
	}
	require.NoError(t, err)

	sums, err := svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, len(svc.Scenarios()), sums[0].Total)
}

func TestDriverNavigationEvents(t *testing.T) {
	srv := fixture.NewServer(fixture.DefaultConfig())
	addr, err := srv.Start()
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	b, err := cdp.Launch(cdp.LaunchConfig{
		ExtensionDir:      extensionDir(t),
		Bin:               os.Getenv("DNRHARNESS_CHROME"),
		Headless:          true,
		HostResolverRules: fixture.HostResolverRules(addr),
		Flags:             fixture.LaunchFlags(),
	}, nil)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var d *cdp.Driver
	require.Eventually(t, func() bool {
		d, err = cdp.Connect(ctx, cdp.Options{DevToolsURL: b.DevToolsURL})
		return err == nil
	}, 10*time.Second, 250*time.Millisecond)
	defer d.Close()
	assert.Contains(t, d.Origin(), "chrome-extension://")

	events, unsubscribe, err := d.Subscribe(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	tab, err := d.CreateTab(ctx, browser.CreateTabArgs{URL: fixture.Fixtures().Root})
	require.NoError(t, err)
	defer d.RemoveTab(context.Background(), tab.ID)

	for {
		select {
		case ev := <-events:
			if ev.TabID == tab.ID && ev.FrameID == 0 && ev.Type == browser.EventDOMContentLoaded {
				return
			}
		case <-ctx.Done():
			t.Fatal("no DOMContentLoaded for the top-level frame")
		}
	}
}

// testWriter 日志写入 t.Log
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
