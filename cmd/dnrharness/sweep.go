package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(root *rootOptions) *cobra.Command {
	var devtools string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove every dynamic rule and disable every ruleset left in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.load()
			if err != nil {
				return err
			}
			if devtools != "" {
				c.Browser.DevToolsURL = devtools
			}
			if c.Browser.DevToolsURL == "" {
				return fmt.Errorf("sweep needs a running browser: set --devtools or browser.devtoolsURL")
			}
			c.FixtureServer.Enabled = false
			if err := c.Validate(); err != nil {
				return err
			}
			svc := newService(c, newLogger(c))
			defer svc.Close()

			if err := svc.Sweep(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "browser state cleaned")
			return nil
		},
	}
	cmd.Flags().StringVar(&devtools, "devtools", "", "DevTools URL of the running browser")
	return cmd
}
