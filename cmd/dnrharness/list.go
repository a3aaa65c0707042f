package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenario names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.load()
			if err != nil {
				return err
			}
			svc := newService(c, newLogger(c))
			defer svc.Close()

			w := cmd.OutOrStdout()
			for i, s := range svc.Scenarios() {
				fmt.Fprintf(w, "%2d  %-9s %s\n", i+1, s.Observe.Kind, s.Name)
			}
			return nil
		},
	}
}
