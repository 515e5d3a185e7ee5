package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"pipeplane/pkg/api"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create, inspect and retry pipeline runs",
}

var runCreateCmd = &cobra.Command{
	Use:   "create [version_id]",
	Short: "Start a run of an approved pipeline version",
	Long: `Start a new run. The version must be APPROVED.

Example:
  pipectl run create <version-id>
  pipectl run create <version-id> --params '{"window":"daily"}' --trigger backfill`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		params, _ := cmd.Flags().GetString("params")
		trigger, _ := cmd.Flags().GetString("trigger")

		client := newClient(cmd)
		if client == nil {
			return
		}

		req := api.CreateRunRequest{
			PipelineVersionID: args[0],
			TriggerType:       trigger,
		}
		if params != "" {
			if !json.Valid([]byte(params)) {
				cmd.Println("Error: --params must be valid JSON")
				return
			}
			req.Parameters = json.RawMessage(params)
		}

		run, err := client.CreateRun(req)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("🚀 Run queued!\nID: %s\nStatus: %s\n", run.ID, run.Status)
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	Long: `List runs of the tenant, oldest first.

Example:
  pipectl run list --status FAILED,QUEUED
  pipectl run list --version <version-id> --limit 50`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		version, _ := flags.GetString("version")
		root, _ := flags.GetString("root")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		client := newClient(cmd)
		if client == nil {
			return
		}

		opts := RunListOptions{
			PipelineVersionID: version,
			RootRunID:         root,
			Limit:             limit,
			Offset:            offset,
		}
		for _, s := range strings.Split(status, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Statuses = append(opts.Statuses, strings.ToUpper(s))
			}
		}

		result, err := client.ListRuns(opts)
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(result.Items) == 0 {
			cmd.Println("No runs found.")
			return
		}

		printRunTable(cmd, result.Items)
		printPage(cmd, len(result.Items), result.Offset, result.Total)
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status [run_id]",
	Short: "Get status of a run",
	Long:  `Retrieve detailed status information for a run, including its current state (QUEUED, RUNNING, SUCCEEDED, FAILED), attempt, lineage and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		run, err := client.GetRun(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		printStatus(cmd, *run)
	},
}

var runRetryCmd = &cobra.Command{
	Use:   "retry [run_id]",
	Short: "Retry a failed run",
	Long:  `Create a new QUEUED run that retries a FAILED run. A run can be retried once; retry the newest run of the chain to try again.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		run, err := client.RetryRun(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("🔄 Retry queued!\nID: %s\nAttempt: %d\n", run.ID, run.Attempt)
		if run.RootRunID != nil {
			cmd.Printf("Root: %s\n", *run.RootRunID)
		}
	},
}

var runLineageCmd = &cobra.Command{
	Use:   "lineage [run_id]",
	Short: "Show every run in the retry chain of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		lineage, err := client.GetLineage(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("%sRoot:%s %s\n", colorDim, colorReset, lineage.RootRunID)
		printRunTable(cmd, lineage.Runs)
	},
}

var runEventsCmd = &cobra.Command{
	Use:   "events [run_id]",
	Short: "Show the status transitions of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		result, err := client.GetEvents(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(result.Events) == 0 {
			cmd.Println("No events recorded.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tFROM\tTO\tREASON\tACTOR")
		for _, e := range result.Events {
			from := "-"
			if e.FromStatus != nil {
				from = *e.FromStatus
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.OccurredAt.Format("2006-01-02 15:04:05"), from, e.ToStatus, e.Reason, e.Actor)
		}
		w.Flush()
	},
}

func printRunTable(cmd *cobra.Command, runs []api.RunResponse) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tATTEMPT\tTRIGGER\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Status, r.Attempt, r.TriggerType, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func init() {
	runCreateCmd.Flags().String("params", "", "Run parameters as a JSON object")
	runCreateCmd.Flags().String("trigger", "", "Trigger type label (default: manual)")

	runListCmd.Flags().String("status", "", "Comma-separated statuses to include")
	runListCmd.Flags().String("version", "", "Only runs of this pipeline version")
	runListCmd.Flags().String("root", "", "Only runs of the retry chain with this root")
	addPageFlags(runListCmd)

	runCmd.AddCommand(runCreateCmd, runListCmd, runStatusCmd, runRetryCmd, runLineageCmd, runEventsCmd)
	rootCmd.AddCommand(runCmd)
}
