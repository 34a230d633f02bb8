package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-firewatch/pkg/client"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var server string

	jobsCmd := &cobra.Command{
		Use:         "jobs",
		Short:       "List jobs on a firewatch server",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(server)
			if err != nil {
				return err
			}
			list, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			fmt.Fprintln(out, renderJobs(list))
			return nil
		},
	}
	jobsCmd.PersistentFlags().StringVarP(&server, "server", "s", defaultServerURL(), "Server URL (env "+envServer+")")

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "rm <id>...",
		Short: "Cancel and delete jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(server)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := c.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	})

	return jobsCmd
}
