package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dnrharness/internal/harness"
)

var (
	passColor  = color.New(color.FgGreen)
	failColor  = color.New(color.FgRed)
	faintColor = color.New(color.Faint)
)

type runOptions struct {
	devtools  string
	extension string
	parallel  int
	timeout   time.Duration
	local     bool
	headful   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run all scenarios, or the named ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.load()
			if err != nil {
				return err
			}
			if opts.devtools != "" {
				c.Browser.DevToolsURL = opts.devtools
			}
			if opts.extension != "" {
				c.Browser.ExtensionDir = opts.extension
			}
			if opts.parallel > 0 {
				c.Harness.Parallel = opts.parallel
			}
			if opts.timeout > 0 {
				c.Harness.ScenarioTimeout = opts.timeout
			}
			if opts.local {
				c.FixtureServer.Enabled = true
			}
			if opts.headful {
				c.Browser.Headless = false
			}
			if err := c.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc := newService(c, newLogger(c))
			defer svc.Close()

			rep, err := svc.Run(ctx, args...)
			printReport(cmd.OutOrStdout(), rep)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.devtools, "devtools", "", "DevTools URL of a running browser, e.g. http://127.0.0.1:9222")
	f.StringVar(&opts.extension, "extension", "", "unpacked extension directory to launch Chrome with")
	f.IntVar(&opts.parallel, "parallel", 0, "concurrent scenarios that install no rules")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-scenario deadline")
	f.BoolVar(&opts.local, "local", false, "serve the test pages locally and map their hosts to it")
	f.BoolVar(&opts.headful, "headful", false, "show the browser window")
	return cmd
}

func printReport(w io.Writer, rep harness.Report) {
	for _, o := range rep.Outcomes {
		if o.Passed {
			passColor.Fprint(w, "PASS ")
		} else {
			failColor.Fprint(w, "FAIL ")
		}
		fmt.Fprintf(w, "%s ", o.Name)
		faintColor.Fprintf(w, "(%s)\n", o.Duration.Round(time.Millisecond))
		if o.Err != nil {
			fmt.Fprintf(w, "     %v\n", o.Err)
		}
	}
	if rep.RunID == "" {
		return
	}
	summary := fmt.Sprintf("%d/%d passed", len(rep.Outcomes)-rep.Failed(), len(rep.Outcomes))
	if rep.Passed() {
		passColor.Fprint(w, summary)
	} else {
		failColor.Fprint(w, summary)
	}
	faintColor.Fprintf(w, " run %s\n", rep.RunID)
}
