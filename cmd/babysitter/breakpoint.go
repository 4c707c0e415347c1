package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/runs"
)

var breakpointCmd = &cobra.Command{
	Use:     "breakpoint",
	Aliases: []string{"bp"},
	Short:   "List and decide breakpoints",
	Long: `Breakpoints raised in deferred mode wait in the run store until someone decides
them. Approve or reject them here (or through the HTTP API), then resume the run.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var breakpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List breakpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runID, _ := cmd.Flags().GetString("run")
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.runStore(cmd.Context())
		if err != nil {
			return err
		}

		filter := runs.BreakpointFilter{RunID: runID, Status: runs.BreakpointPending}
		if all {
			filter.Status = ""
		}
		list, err := store.ListBreakpoints(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			presenter.Info("No breakpoints found.")
			return nil
		}
		return displayBreakpoints(os.Stdout, list)
	},
}

func newDecideCmd(status runs.BreakpointStatus, verb string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <breakpoint-id>", verb),
		Short: fmt.Sprintf("%s a pending breakpoint", strings.ToUpper(verb[:1])+verb[1:]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			response, _ := cmd.Flags().GetString("response")
			decidedBy, _ := cmd.Flags().GetString("by")
			if decidedBy == "" {
				decidedBy = os.Getenv("USER")
			}
			if decidedBy == "" {
				decidedBy = "cli"
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			store, err := a.runStore(cmd.Context())
			if err != nil {
				return err
			}

			bp, err := store.DecideBreakpoint(cmd.Context(), args[0], runs.Decision{
				Status:    status,
				Response:  response,
				DecidedBy: decidedBy,
			})
			if err != nil {
				return err
			}
			presenter.Success(fmt.Sprintf("Breakpoint %s %s. Continue with: babysitter resume %s", bp.ID, bp.Status, bp.RunID))
			return nil
		},
	}
	cmd.Flags().String("response", "", "response recorded with the decision")
	cmd.Flags().String("by", "", "who decided (default $USER)")
	return cmd
}

func init() {
	breakpointListCmd.Flags().String("run", "", "only breakpoints of this run")
	breakpointListCmd.Flags().Bool("all", false, "include decided breakpoints")

	breakpointCmd.AddCommand(
		breakpointListCmd,
		newDecideCmd(runs.BreakpointApproved, "approve"),
		newDecideCmd(runs.BreakpointRejected, "reject"),
	)
}

func displayBreakpoints(w io.Writer, list []*runs.Breakpoint) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRUN\tSTATUS\tCREATED\tQUESTION")
	for _, bp := range list {
		question := bp.Question
		if bp.Title != "" {
			question = bp.Title + ": " + question
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			bp.ID, bp.RunID, bp.Status, bp.CreatedAt.Local().Format(time.DateTime), truncate(question, 80))
	}
	return tw.Flush()
}
