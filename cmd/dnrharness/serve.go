package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dnrharness/internal/fixture"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the test pages locally for a manually started Chrome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = c.FixtureServer.Addr
			}
			srv := fixture.NewServer(fixture.Config{Addr: addr, Logger: newLogger(c)})
			bound, err := srv.Start()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "serving test pages on %s\n", bound)
			fmt.Fprintf(w, "start Chrome with:\n  --host-resolver-rules=%q", fixture.HostResolverRules(bound))
			for _, f := range fixture.LaunchFlags() {
				fmt.Fprintf(w, " --%s", f)
			}
			fmt.Fprintf(w, "\nhosts: %s\n", strings.Join(fixture.Hosts(), ", "))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from fixtureServer.addr)")
	return cmd
}
