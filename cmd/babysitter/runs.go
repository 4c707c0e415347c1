package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/runs"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and manage runs",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, most recent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		processID, _ := cmd.Flags().GetString("process")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.runStore(cmd.Context())
		if err != nil {
			return err
		}

		list, err := store.ListRuns(cmd.Context(), runs.RunFilter{
			ProcessID: processID,
			Status:    runs.Status(status),
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			presenter.Info("No runs found.")
			return nil
		}
		return displayRuns(os.Stdout, list)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its journal and breakpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.runStore(ctx)
		if err != nil {
			return err
		}

		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		journal, err := store.Journal(ctx, run.ID)
		if err != nil {
			return err
		}
		bps, err := store.ListBreakpoints(ctx, runs.BreakpointFilter{RunID: run.ID})
		if err != nil {
			return err
		}

		var owner *runs.Owner
		if locker, err := a.runLocker(); err == nil {
			owner, _ = locker.Owner(run.ID)
		}

		if asJSON {
			out, err := json.MarshalIndent(map[string]any{
				"run":         run,
				"journal":     journal,
				"breakpoints": bps,
				"owner":       owner,
			}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to encode run")
			}
			fmt.Println(string(out))
			return nil
		}

		displayRun(os.Stdout, run, owner)
		displayJournal(os.Stdout, journal)
		if len(bps) > 0 {
			fmt.Println()
			displayBreakpoints(os.Stdout, bps)
		}
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run with its journal and breakpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		store, err := a.runStore(cmd.Context())
		if err != nil {
			return err
		}
		locker, err := a.runLocker()
		if err != nil {
			return err
		}

		if owner, _ := locker.Owner(args[0]); owner.Alive() {
			return errors.Errorf("run %s is being driven by pid %d on %s", args[0], owner.PID, owner.Hostname)
		}
		if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := locker.Remove(args[0]); err != nil {
			presenter.Warning(err.Error())
		}
		presenter.Success(fmt.Sprintf("Deleted run %s", args[0]))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running, waiting, completed, failed)")
	runsListCmd.Flags().String("process", "", "filter by process id")
	runsListCmd.Flags().Int("limit", 50, "maximum number of runs to show (0 for all)")
	runsShowCmd.Flags().Bool("json", false, "print the run as JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
}

func displayRuns(w io.Writer, list []*runs.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROCESS\tSTATUS\tUPDATED\tERROR")
	for _, run := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.ProcessID, run.Status, run.UpdatedAt.Local().Format(time.DateTime), truncate(run.Error, 60))
	}
	return tw.Flush()
}

func displayRun(w io.Writer, run *runs.Run, owner *runs.Owner) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Process:  %s\n", run.ProcessID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Created:  %s\n", run.CreatedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", run.CompletedAt.Local().Format(time.DateTime))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
	if owner != nil {
		state := "alive"
		if !owner.Alive() {
			state = "stale"
		}
		fmt.Fprintf(w, "Locked:   pid %d on %s since %s (%s)\n",
			owner.PID, owner.Hostname, owner.AcquiredAt.Local().Format(time.DateTime), state)
	}
	fmt.Fprintf(w, "Inputs:   %s\n\n", string(run.Inputs))
}

func displayJournal(w io.Writer, journal []*runs.JournalEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tKIND\tNAME\tSTATUS\tDETAIL")
	for _, entry := range journal {
		detail := entry.Error
		if detail == "" {
			detail = string(entry.Result)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", entry.Seq, entry.Kind, entry.Name, entry.Status, truncate(detail, 80))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
